package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rbelkhiri/signalement-backend/internal/config"
	"github.com/rbelkhiri/signalement-backend/internal/models"
	"github.com/rbelkhiri/signalement-backend/internal/remote"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SyncService owns the durable mutation queue and the worker that drains it
// toward the remote provider. Enqueue is fire-and-forget for the caller;
// ProcessQueue is invoked on demand or on a timer, never as a blocking loop.
type SyncService struct {
	db       *gorm.DB
	cfg      *config.Config
	identity remote.IdentityProvider
	docs     remote.DocumentStore
}

func NewSyncService(db *gorm.DB, cfg *config.Config, identity remote.IdentityProvider, docs remote.DocumentStore) *SyncService {
	return &SyncService{db: db, cfg: cfg, identity: identity, docs: docs}
}

// Enqueue appends one pending mutation. It never fails the caller: the
// primary write already committed, so an enqueue failure is logged and left
// for the reconciler to catch as drift.
func (s *SyncService) Enqueue(entity models.EntityKind, entityID string, action models.SyncAction, payload any) {
	var raw datatypes.JSON
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			slog.Error("sync enqueue: payload snapshot failed", "entity", entity, "entity_id", entityID, "error", err)
		} else {
			raw = datatypes.JSON(b)
		}
	}

	entry := models.SyncQueueEntry{
		Entity:   entity,
		EntityID: entityID,
		Action:   action,
		Payload:  raw,
		Status:   models.QueueStatusPending,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		slog.Error("sync enqueue failed", "entity", entity, "entity_id", entityID, "action", action, "error", err)
	}
}

// ProcessQueue drains up to limit PENDING entries, oldest first. Each row is
// claimed with a conditional PENDING→PROCESSING update before dispatch, so a
// concurrent drain skips rows this one already took.
func (s *SyncService) ProcessQueue(ctx context.Context, limit int) (processed, failed int) {
	if limit <= 0 {
		limit = s.cfg.SyncBatchSize
	}

	var entries []models.SyncQueueEntry
	err := s.db.Where("status = ?", models.QueueStatusPending).
		Order("created_at ASC").Limit(limit).Find(&entries).Error
	if err != nil {
		slog.Error("queue drain: selection failed", "error", err)
		return 0, 0
	}

	for i := range entries {
		entry := &entries[i]

		claim := s.db.Model(&models.SyncQueueEntry{}).
			Where("id = ? AND status = ?", entry.ID, models.QueueStatusPending).
			Update("status", models.QueueStatusProcessing)
		if claim.Error != nil || claim.RowsAffected == 0 {
			continue
		}

		var dispatchErr error
		switch entry.Entity {
		case models.EntityUser:
			dispatchErr = s.pushUser(ctx, entry)
		case models.EntitySignalement:
			dispatchErr = s.pushSignalement(ctx, entry)
		default:
			dispatchErr = fmt.Errorf("unknown entity kind %q", entry.Entity)
		}

		if dispatchErr != nil {
			failed++
			err := s.db.Model(entry).Updates(map[string]any{
				"status":  models.QueueStatusFailed,
				"retries": gorm.Expr("retries + 1"),
			}).Error
			if err != nil {
				slog.Error("queue drain: failure bookkeeping failed", "entry", entry.ID, "error", err)
			}
			recordSync(s.db, models.DirectionPush, entry.Entity, models.SyncOutcomeFailed, dispatchErr.Error())
			slog.Warn("queue entry failed", "entry", entry.ID, "entity", entry.Entity,
				"entity_id", entry.EntityID, "action", entry.Action, "error", dispatchErr)
			continue
		}

		processed++
		if err := s.db.Model(entry).Update("status", models.QueueStatusDone).Error; err != nil {
			slog.Error("queue drain: completion bookkeeping failed", "entry", entry.ID, "error", err)
		}
		recordSync(s.db, models.DirectionPush, entry.Entity, models.SyncOutcomeSuccess, "")
	}

	if processed+failed > 0 {
		slog.Info("queue drain finished", "processed", processed, "failed", failed)
	}
	return processed, failed
}

// staleClaimAge bounds how long a PROCESSING claim may go without progress.
// A claim older than this belongs to a worker that died mid-dispatch.
const staleClaimAge = 10 * time.Minute

// RequeueFailed is the explicit operational action that re-admits FAILED
// entries below the retry ceiling. Nothing requeues automatically. It also
// reclaims PROCESSING rows whose claim went stale, so an entry stranded by a
// crashed worker is redelivered instead of silently lost.
func (s *SyncService) RequeueFailed(maxRetries int) int64 {
	if maxRetries <= 0 {
		maxRetries = s.cfg.SyncMaxRetries
	}
	res := s.db.Model(&models.SyncQueueEntry{}).
		Where("status = ? AND retries < ?", models.QueueStatusFailed, maxRetries).
		Update("status", models.QueueStatusPending)
	if res.Error != nil {
		slog.Error("requeue failed entries: update failed", "error", res.Error)
		return 0
	}

	reclaimed := s.db.Model(&models.SyncQueueEntry{}).
		Where("status = ? AND updated_at < ?", models.QueueStatusProcessing, time.Now().Add(-staleClaimAge)).
		Update("status", models.QueueStatusPending)
	if reclaimed.Error != nil {
		slog.Error("requeue failed entries: stale claim reclaim failed", "error", reclaimed.Error)
		return res.RowsAffected
	}
	if reclaimed.RowsAffected > 0 {
		slog.Warn("reclaimed stale queue claims", "count", reclaimed.RowsAffected)
	}
	return res.RowsAffected + reclaimed.RowsAffected
}

// pushUser delivers one user mutation. Upserts are keyed by the remote uid
// when known and by email otherwise, so redelivery after a crashed status
// update cannot create duplicates.
func (s *SyncService) pushUser(ctx context.Context, entry *models.SyncQueueEntry) error {
	id, err := uuid.Parse(entry.EntityID)
	if err != nil {
		return fmt.Errorf("bad user id %q: %w", entry.EntityID, err)
	}

	var user models.User
	if err := s.db.Unscoped().First(&user, "id = ?", id).Error; err != nil {
		return fmt.Errorf("load user %s: %w", entry.EntityID, err)
	}

	if entry.Action == models.ActionDelete {
		if user.RemoteUID != nil {
			if err := s.identity.Delete(ctx, *user.RemoteUID); err != nil && !errors.Is(err, remote.ErrNotFound) {
				return fmt.Errorf("delete remote identity: %w", err)
			}
		}
		return s.markUserSynced(&user, user.RemoteUID)
	}

	uid := user.RemoteUID
	if uid == nil {
		existing, err := s.identity.LookupByEmail(ctx, user.Email)
		switch {
		case err == nil:
			uid = &existing.UID
		case errors.Is(err, remote.ErrNotFound):
			created, err := s.identity.Create(ctx, user.Email, generateTempPassword())
			if err != nil {
				return fmt.Errorf("create remote identity: %w", err)
			}
			uid = &created.UID
		default:
			return fmt.Errorf("lookup remote identity: %w", err)
		}
	}

	verified := user.EmailVerified
	email := user.Email
	if _, err := s.identity.Update(ctx, *uid, remote.UserUpdate{
		Email:         &email,
		EmailVerified: &verified,
	}); err != nil {
		return fmt.Errorf("update remote identity: %w", err)
	}

	return s.markUserSynced(&user, uid)
}

func (s *SyncService) markUserSynced(user *models.User, uid *string) error {
	err := s.db.Unscoped().Model(user).Updates(map[string]any{
		"remote_uid":  uid,
		"sync_status": models.SyncStatusSynced,
	}).Error
	if err != nil {
		return fmt.Errorf("persist sync status: %w", err)
	}
	return nil
}

// pushSignalement delivers one record mutation: full add on create, merge on
// update, idempotent delete.
func (s *SyncService) pushSignalement(ctx context.Context, entry *models.SyncQueueEntry) error {
	id, err := strconv.ParseUint(entry.EntityID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad signalement id %q: %w", entry.EntityID, err)
	}

	var sig models.Signalement
	if err := s.db.Unscoped().First(&sig, "id = ?", id).Error; err != nil {
		return fmt.Errorf("load signalement %s: %w", entry.EntityID, err)
	}

	if entry.Action == models.ActionDelete {
		if sig.RemoteID != nil {
			if err := s.docs.DeleteSignalement(ctx, *sig.RemoteID); err != nil && !errors.Is(err, remote.ErrNotFound) {
				return fmt.Errorf("delete remote document: %w", err)
			}
		}
		return s.markSignalementSynced(&sig, sig.RemoteID)
	}

	ownerUID := s.ownerRemoteUID(sig.UserID)

	if sig.RemoteID == nil {
		remoteID, err := s.docs.AddSignalement(ctx, signalementDoc(&sig, ownerUID))
		if err != nil {
			return fmt.Errorf("add remote document: %w", err)
		}
		return s.markSignalementSynced(&sig, &remoteID)
	}

	fields := signalementFields(&sig, ownerUID)
	if err := s.docs.SetSignalement(ctx, *sig.RemoteID, fields, true); err != nil {
		return fmt.Errorf("merge remote document: %w", err)
	}
	return s.markSignalementSynced(&sig, sig.RemoteID)
}

func (s *SyncService) markSignalementSynced(sig *models.Signalement, remoteID *string) error {
	err := s.db.Unscoped().Model(sig).Updates(map[string]any{
		"remote_id":   remoteID,
		"sync_status": models.SyncStatusSynced,
	}).Error
	if err != nil {
		return fmt.Errorf("persist sync status: %w", err)
	}
	return nil
}

func (s *SyncService) ownerRemoteUID(userID uuid.UUID) string {
	var owner models.User
	if err := s.db.First(&owner, "id = ?", userID).Error; err != nil {
		return ""
	}
	if owner.RemoteUID == nil {
		return ""
	}
	return *owner.RemoteUID
}

func signalementDoc(sig *models.Signalement, ownerUID string) remote.SignalementDoc {
	var position map[string]float64
	if len(sig.Position) > 0 {
		_ = json.Unmarshal(sig.Position, &position)
	}
	updated := sig.UpdatedAt
	return remote.SignalementDoc{
		Description: sig.Description,
		Entreprise:  sig.Entreprise,
		Position:    position,
		Status:      sig.Status,
		Surface:     sig.Surface,
		Budget:      sig.Budget,
		OwnerUID:    ownerUID,
		Photos:      sig.PhotoList(),
		Date:        sig.Date,
		DateDebut:   sig.DateDebut,
		DateFin:     sig.DateFin,
		UpdatedAt:   &updated,
	}
}

func signalementFields(sig *models.Signalement, ownerUID string) map[string]any {
	var position map[string]float64
	if len(sig.Position) > 0 {
		_ = json.Unmarshal(sig.Position, &position)
	}
	return map[string]any{
		"description": sig.Description,
		"entreprise":  sig.Entreprise,
		"position":    position,
		"status":      sig.Status,
		"surface":     sig.Surface,
		"budget":      sig.Budget,
		"owner_uid":   ownerUID,
		"photos":      sig.PhotoList(),
	}
}

// recordSync appends one write-once audit row. Failures to write the audit
// row are logged only; they must not fail the sync outcome they describe.
func recordSync(db *gorm.DB, dir models.SyncDirection, entity models.EntityKind, outcome models.SyncOutcome, errText string) {
	entry := models.SyncLogEntry{
		Direction: dir,
		Entity:    entity,
		Status:    outcome,
		Error:     errText,
		CreatedAt: time.Now(),
	}
	if err := db.Create(&entry).Error; err != nil {
		slog.Error("sync log write failed", "direction", dir, "entity", entity, "error", err)
	}
}
