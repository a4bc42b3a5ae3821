package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/rbelkhiri/signalement-backend/internal/config"
	"github.com/rbelkhiri/signalement-backend/internal/dto"
	"github.com/rbelkhiri/signalement-backend/internal/models"
	"github.com/rbelkhiri/signalement-backend/internal/remote"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Reconciler runs the bulk, idempotent drift-correction passes between the
// remote store and the local one. It is independent of the incremental queue:
// the queue delivers individual mutations, the reconciler restores a baseline.
type Reconciler struct {
	db       *gorm.DB
	cfg      *config.Config
	identity remote.IdentityProvider
	docs     remote.DocumentStore
	blobs    remote.BlobStorage
}

func NewReconciler(db *gorm.DB, cfg *config.Config, identity remote.IdentityProvider,
	docs remote.DocumentStore, blobs remote.BlobStorage) *Reconciler {
	return &Reconciler{db: db, cfg: cfg, identity: identity, docs: docs, blobs: blobs}
}

// PullRemoteToLocal copies remote signalement documents into local rows.
// The remote side is the source of truth on pull: existing rows are
// overwritten last-writer-wins, no field-level merge. Documents missing
// required fields are skipped, never fatal.
func (r *Reconciler) PullRemoteToLocal(ctx context.Context, limit int) (dto.ReconcileCounts, error) {
	var counts dto.ReconcileCounts

	remoteDocs, err := r.docs.ListSignalements(ctx, limit)
	if err != nil {
		recordSync(r.db, models.DirectionPull, models.EntitySignalement, models.SyncOutcomeFailed, err.Error())
		return counts, fmt.Errorf("list remote signalements: %w", err)
	}

	for i := range remoteDocs {
		doc := &remoteDocs[i]
		counts.Total++

		if doc.Description == "" || doc.OwnerUID == "" {
			counts.Skipped++
			continue
		}

		var sig models.Signalement
		lookupErr := r.db.Unscoped().Where("remote_id = ?", doc.ID).First(&sig).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			created, err := r.insertFromDoc(doc)
			if err != nil {
				counts.Errors++
				recordSync(r.db, models.DirectionPull, models.EntitySignalement, models.SyncOutcomeFailed, err.Error())
				continue
			}
			if created {
				counts.Created++
			} else {
				counts.Skipped++
			}
		case lookupErr != nil:
			counts.Errors++
			recordSync(r.db, models.DirectionPull, models.EntitySignalement, models.SyncOutcomeFailed, lookupErr.Error())
		default:
			if err := r.overwriteFromDoc(&sig, doc); err != nil {
				counts.Errors++
				recordSync(r.db, models.DirectionPull, models.EntitySignalement, models.SyncOutcomeFailed, err.Error())
				continue
			}
			counts.Updated++
		}
	}

	recordSync(r.db, models.DirectionPull, models.EntitySignalement, models.SyncOutcomeSuccess, "")
	slog.Info("pull pass finished", "total", counts.Total, "created", counts.Created,
		"updated", counts.Updated, "skipped", counts.Skipped, "errors", counts.Errors)
	return counts, nil
}

func (r *Reconciler) insertFromDoc(doc *remote.SignalementDoc) (bool, error) {
	var owner models.User
	if err := r.db.Where("remote_uid = ?", doc.OwnerUID).First(&owner).Error; err != nil {
		// The owner has not been mirrored locally yet; the bidirectional user
		// pass handles that, the record is picked up on the next pull.
		return false, nil
	}

	remoteID := doc.ID
	sig := models.Signalement{
		RemoteID:    &remoteID,
		Description: doc.Description,
		Entreprise:  doc.Entreprise,
		Position:    positionJSON(doc.Position),
		Status:      doc.Status,
		Surface:     doc.Surface,
		Budget:      doc.Budget,
		UserID:      owner.ID,
		Date:        doc.Date,
		DateDebut:   doc.DateDebut,
		DateFin:     doc.DateFin,
		SyncStatus:  models.SyncStatusSynced,
	}
	sig.SetPhotos(doc.Photos)
	if err := r.db.Create(&sig).Error; err != nil {
		return false, fmt.Errorf("insert pulled signalement: %w", err)
	}
	return true, nil
}

func (r *Reconciler) overwriteFromDoc(sig *models.Signalement, doc *remote.SignalementDoc) error {
	sig.SetPhotos(doc.Photos)
	err := r.db.Unscoped().Model(sig).Updates(map[string]any{
		"description": doc.Description,
		"entreprise":  doc.Entreprise,
		"position":    positionJSON(doc.Position),
		"status":      doc.Status,
		"surface":     doc.Surface,
		"budget":      doc.Budget,
		"photos":      sig.Photos,
		"sync_status": models.SyncStatusSynced,
	}).Error
	if err != nil {
		return fmt.Errorf("overwrite pulled signalement: %w", err)
	}
	return nil
}

// PullPhotos materializes remote photo documents onto local disk, resolving
// binary content either inline or from object storage. Idempotent by
// filename per record.
func (r *Reconciler) PullPhotos(ctx context.Context, limit int) (dto.ReconcileCounts, error) {
	var counts dto.ReconcileCounts

	photos, err := r.docs.ListPhotos(ctx, limit)
	if err != nil {
		recordSync(r.db, models.DirectionPull, models.EntitySignalement, models.SyncOutcomeFailed, err.Error())
		return counts, fmt.Errorf("list remote photos: %w", err)
	}

	for i := range photos {
		photo := &photos[i]
		counts.Total++

		var sig models.Signalement
		if err := r.db.Where("remote_id = ?", photo.SignalementID).First(&sig).Error; err != nil {
			counts.Skipped++
			continue
		}
		if sig.HasPhoto(photo.Filename) {
			counts.Skipped++
			continue
		}

		if err := r.materializePhoto(ctx, &sig, photo); err != nil {
			counts.Errors++
			recordSync(r.db, models.DirectionPull, models.EntitySignalement, models.SyncOutcomeFailed, err.Error())
			slog.Warn("photo pull failed", "signalement", sig.ID, "filename", photo.Filename, "error", err)
			continue
		}
		counts.Created++
	}

	slog.Info("photo pull finished", "total", counts.Total, "created", counts.Created,
		"skipped", counts.Skipped, "errors", counts.Errors)
	return counts, nil
}

func (r *Reconciler) materializePhoto(ctx context.Context, sig *models.Signalement, photo *remote.PhotoDoc) error {
	content := photo.Content
	if len(content) == 0 && photo.StoragePath != "" {
		if r.blobs == nil {
			return fmt.Errorf("photo %s needs object storage but none is configured", photo.Filename)
		}
		b, err := r.blobs.Download(ctx, photo.StoragePath)
		if err != nil {
			return fmt.Errorf("download photo %s: %w", photo.Filename, err)
		}
		content = b
	}
	if len(content) == 0 {
		return fmt.Errorf("photo %s has no content", photo.Filename)
	}

	dir := filepath.Join(r.cfg.UploadDir, strconv.FormatUint(uint64(sig.ID), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create photo directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, photo.Filename), content, 0o644); err != nil {
		return fmt.Errorf("write photo file: %w", err)
	}

	sig.SetPhotos(append(sig.PhotoList(), photo.Filename))
	if err := r.db.Model(sig).Update("photos", sig.Photos).Error; err != nil {
		return fmt.Errorf("append photo filename: %w", err)
	}
	return nil
}

// PushPhotosToRemote uploads local photo files that have no remote document
// yet. Files above the configured payload ceiling are skipped: the document
// store accepts far less than local disk.
func (r *Reconciler) PushPhotosToRemote(ctx context.Context, limit int) (dto.ReconcileCounts, error) {
	var counts dto.ReconcileCounts

	var sigs []models.Signalement
	err := r.db.Where("remote_id IS NOT NULL").Order("id").Limit(limit).Find(&sigs).Error
	if err != nil {
		return counts, fmt.Errorf("list local records: %w", err)
	}

	for i := range sigs {
		sig := &sigs[i]
		for _, filename := range sig.PhotoList() {
			counts.Total++

			if _, err := r.docs.FindPhoto(ctx, *sig.RemoteID, filename); err == nil {
				counts.Skipped++
				continue
			} else if !errors.Is(err, remote.ErrNotFound) {
				counts.Errors++
				recordSync(r.db, models.DirectionPush, models.EntitySignalement, models.SyncOutcomeFailed, err.Error())
				continue
			}

			path := filepath.Join(r.cfg.UploadDir, strconv.FormatUint(uint64(sig.ID), 10), filename)
			info, err := os.Stat(path)
			if err != nil {
				counts.Errors++
				recordSync(r.db, models.DirectionPush, models.EntitySignalement, models.SyncOutcomeFailed, err.Error())
				continue
			}
			if info.Size() > r.cfg.MaxPhotoBytes {
				counts.Skipped++
				continue
			}

			content, err := os.ReadFile(path)
			if err != nil {
				counts.Errors++
				recordSync(r.db, models.DirectionPush, models.EntitySignalement, models.SyncOutcomeFailed, err.Error())
				continue
			}

			_, err = r.docs.AddPhoto(ctx, remote.PhotoDoc{
				SignalementID: *sig.RemoteID,
				Filename:      filename,
				Content:       content,
			})
			if err != nil {
				counts.Errors++
				recordSync(r.db, models.DirectionPush, models.EntitySignalement, models.SyncOutcomeFailed, err.Error())
				continue
			}
			counts.Created++
		}
	}

	slog.Info("photo push finished", "total", counts.Total, "created", counts.Created,
		"skipped", counts.Skipped, "errors", counts.Errors)
	return counts, nil
}

// SyncBidirectional is the authoritative two-way user baseline: remote
// identities missing locally become mirrored local rows, and local accounts
// never pushed become remote identities with fresh temporary passwords.
func (r *Reconciler) SyncBidirectional(ctx context.Context) error {
	if err := r.pullUsers(ctx); err != nil {
		return err
	}
	r.pushUsers(ctx)
	return nil
}

func (r *Reconciler) pullUsers(ctx context.Context) error {
	token := ""
	for {
		users, next, err := r.identity.List(ctx, 100, token)
		if err != nil {
			recordSync(r.db, models.DirectionPull, models.EntityUser, models.SyncOutcomeFailed, err.Error())
			return fmt.Errorf("list remote users: %w", err)
		}

		for i := range users {
			ru := &users[i]
			if err := r.mirrorRemoteUser(ru); err != nil {
				recordSync(r.db, models.DirectionPull, models.EntityUser, models.SyncOutcomeFailed, err.Error())
				slog.Warn("user pull failed", "email", ru.Email, "error", err)
			}
		}

		if next == "" || len(users) == 0 {
			break
		}
		token = next
	}
	recordSync(r.db, models.DirectionPull, models.EntityUser, models.SyncOutcomeSuccess, "")
	return nil
}

func (r *Reconciler) mirrorRemoteUser(ru *remote.User) error {
	var user models.User
	err := r.db.Unscoped().Where("email = ?", ru.Email).First(&user).Error
	if err == nil {
		if user.RemoteUID == nil {
			uid := ru.UID
			return r.db.Unscoped().Model(&user).Updates(map[string]any{
				"remote_uid":  uid,
				"sync_status": models.SyncStatusSynced,
			}).Error
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	// The mirrored row gets an unguessable placeholder credential; the real
	// password lives with the remote provider until the user resets locally.
	hash, err := bcrypt.GenerateFromPassword([]byte(generateTempPassword()), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	uid := ru.UID
	return r.db.Create(&models.User{
		ID:            uuid.New(),
		Email:         ru.Email,
		Password:      string(hash),
		RemoteUID:     &uid,
		DisplayName:   ru.DisplayName,
		EmailVerified: ru.EmailVerified,
		SyncStatus:    models.SyncStatusSynced,
	}).Error
}

func (r *Reconciler) pushUsers(ctx context.Context) {
	var users []models.User
	if err := r.db.Where("remote_uid IS NULL").Find(&users).Error; err != nil {
		slog.Error("user push: local listing failed", "error", err)
		return
	}

	for i := range users {
		user := &users[i]
		created, err := r.identity.Create(ctx, user.Email, generateTempPassword())
		if err != nil {
			recordSync(r.db, models.DirectionPush, models.EntityUser, models.SyncOutcomeFailed, err.Error())
			slog.Warn("user push failed", "email", user.Email, "error", err)
			continue
		}
		err = r.db.Model(user).Updates(map[string]any{
			"remote_uid":  created.UID,
			"sync_status": models.SyncStatusSynced,
		}).Error
		if err != nil {
			recordSync(r.db, models.DirectionPush, models.EntityUser, models.SyncOutcomeFailed, err.Error())
			continue
		}
		recordSync(r.db, models.DirectionPush, models.EntityUser, models.SyncOutcomeSuccess, "")
	}
}

func positionJSON(pos map[string]float64) datatypes.JSON {
	if pos == nil {
		return nil
	}
	b, err := json.Marshal(pos)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
