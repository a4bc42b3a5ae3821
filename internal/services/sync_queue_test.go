package services

import (
	"context"
	"testing"
	"time"

	"github.com/rbelkhiri/signalement-backend/internal/dto"
	"github.com/rbelkhiri/signalement-backend/internal/models"
	"github.com/rbelkhiri/signalement-backend/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSyncFixture(t *testing.T) (*SyncService, *SignalementService, *remote.MemoryProvider, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	cfg := newTestConfig(t)
	mem := remote.NewMemoryProvider()
	sync := NewSyncService(db, cfg, mem, mem)
	return sync, NewSignalementService(db, sync), mem, db
}

func queueEntries(t *testing.T, db *gorm.DB) []models.SyncQueueEntry {
	t.Helper()
	var entries []models.SyncQueueEntry
	require.NoError(t, db.Order("id").Find(&entries).Error)
	return entries
}

func TestWritesEnqueueMatchingEntries(t *testing.T) {
	_, sigs, mem, db := newSyncFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "owner@example.com")

	sig, err := sigs.Create(ctx, owner.ID, &dto.SignalementRequest{Description: "fissure mur porteur"})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, sig.SyncStatus)
	assert.Equal(t, "nouveau", sig.Status)

	_, err = sigs.Update(ctx, sig.ID, &dto.SignalementRequest{Description: "fissure agrandie", Status: "en_cours"})
	require.NoError(t, err)

	require.NoError(t, sigs.Delete(ctx, sig.ID))

	entries := queueEntries(t, db)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, models.EntitySignalement, e.Entity)
		assert.Equal(t, entityID(sig.ID), e.EntityID)
		assert.Equal(t, models.QueueStatusPending, e.Status)
	}
	assert.Equal(t, models.ActionCreate, entries[0].Action)
	assert.Equal(t, models.ActionUpdate, entries[1].Action)
	assert.Equal(t, models.ActionDelete, entries[2].Action)
}

func TestProcessQueuePushesSignalement(t *testing.T) {
	sync, sigs, mem, db := newSyncFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "push@example.com")

	sig, err := sigs.Create(ctx, owner.ID, &dto.SignalementRequest{
		Description: "toiture endommagée",
		Entreprise:  "BTP Sud",
		Surface:     42.5,
	})
	require.NoError(t, err)

	processed, failed := sync.ProcessQueue(ctx, 0)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)

	var reloaded models.Signalement
	require.NoError(t, db.First(&reloaded, "id = ?", sig.ID).Error)
	require.NotNil(t, reloaded.RemoteID)
	assert.Equal(t, models.SyncStatusSynced, reloaded.SyncStatus)

	doc := mem.SignalementByID(*reloaded.RemoteID)
	require.NotNil(t, doc)
	assert.Equal(t, "toiture endommagée", doc.Description)
	assert.Equal(t, *owner.RemoteUID, doc.OwnerUID)

	var entry models.SyncQueueEntry
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, models.QueueStatusDone, entry.Status)

	var logs []models.SyncLogEntry
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.DirectionPush, logs[0].Direction)
	assert.Equal(t, models.SyncOutcomeSuccess, logs[0].Status)
}

func TestProcessQueueUpdateMergesExistingDoc(t *testing.T) {
	sync, sigs, mem, db := newSyncFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "merge@example.com")

	sig, err := sigs.Create(ctx, owner.ID, &dto.SignalementRequest{Description: "première version"})
	require.NoError(t, err)
	sync.ProcessQueue(ctx, 0)

	var afterCreate models.Signalement
	require.NoError(t, db.First(&afterCreate, "id = ?", sig.ID).Error)
	require.NotNil(t, afterCreate.RemoteID)

	_, err = sigs.Update(ctx, sig.ID, &dto.SignalementRequest{Description: "version corrigée", Status: "traite"})
	require.NoError(t, err)
	processed, failed := sync.ProcessQueue(ctx, 0)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)

	// Same remote document, updated in place.
	var afterUpdate models.Signalement
	require.NoError(t, db.First(&afterUpdate, "id = ?", sig.ID).Error)
	require.NotNil(t, afterUpdate.RemoteID)
	assert.Equal(t, *afterCreate.RemoteID, *afterUpdate.RemoteID)

	doc := mem.SignalementByID(*afterUpdate.RemoteID)
	require.NotNil(t, doc)
	assert.Equal(t, "version corrigée", doc.Description)
	assert.Equal(t, "traite", doc.Status)
}

func TestProcessQueueDeleteRemovesRemoteDoc(t *testing.T) {
	sync, sigs, mem, db := newSyncFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "del@example.com")

	sig, err := sigs.Create(ctx, owner.ID, &dto.SignalementRequest{Description: "à supprimer"})
	require.NoError(t, err)
	sync.ProcessQueue(ctx, 0)

	var created models.Signalement
	require.NoError(t, db.First(&created, "id = ?", sig.ID).Error)
	require.NotNil(t, created.RemoteID)
	remoteID := *created.RemoteID

	require.NoError(t, sigs.Delete(ctx, sig.ID))
	processed, failed := sync.ProcessQueue(ctx, 0)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)

	assert.Nil(t, mem.SignalementByID(remoteID))
}

func TestProcessQueueUserCreate(t *testing.T) {
	sync, _, mem, db := newSyncFixture(t)
	ctx := context.Background()

	// Local-only account, queued for remote creation.
	auth := NewAuthService(db, newTestConfig(t), newTestProbe(t, false), mem, NewAttemptTracker(db, newTestConfig(t), mem, mem), nil)
	_, err := auth.Register(ctx, &dto.RegisterRequest{Email: "queued@example.com", Password: "pw123456"})
	require.NoError(t, err)

	var user models.User
	require.NoError(t, db.First(&user, "email = ?", "queued@example.com").Error)
	require.Nil(t, user.RemoteUID)

	sync.Enqueue(models.EntityUser, user.ID.String(), models.ActionCreate, &user)
	processed, failed := sync.ProcessQueue(ctx, 0)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)

	require.NoError(t, db.First(&user, "email = ?", "queued@example.com").Error)
	require.NotNil(t, user.RemoteUID)
	ru := mem.UserByUID(*user.RemoteUID)
	require.NotNil(t, ru)
	assert.Equal(t, "queued@example.com", ru.Email)
}

func TestProcessQueueFailureMarksEntryFailed(t *testing.T) {
	sync, sigs, mem, db := newSyncFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "down@example.com")

	_, err := sigs.Create(ctx, owner.ID, &dto.SignalementRequest{Description: "pendant la panne"})
	require.NoError(t, err)

	mem.Unreachable = true
	processed, failed := sync.ProcessQueue(ctx, 0)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, failed)

	var entry models.SyncQueueEntry
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, models.QueueStatusFailed, entry.Status)
	assert.Equal(t, 1, entry.Retries)

	var logs []models.SyncLogEntry
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SyncOutcomeFailed, logs[0].Status)
	assert.NotEmpty(t, logs[0].Error)

	// A FAILED entry never requeues on its own.
	processed, failed = sync.ProcessQueue(ctx, 0)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, failed)
}

func TestRequeueFailedRespectsCeiling(t *testing.T) {
	sync, _, _, db := newSyncFixture(t)

	entries := []models.SyncQueueEntry{
		{Entity: models.EntitySignalement, EntityID: "1", Action: models.ActionUpdate, Status: models.QueueStatusFailed, Retries: 1},
		{Entity: models.EntitySignalement, EntityID: "2", Action: models.ActionUpdate, Status: models.QueueStatusFailed, Retries: 5},
		{Entity: models.EntitySignalement, EntityID: "3", Action: models.ActionUpdate, Status: models.QueueStatusDone},
	}
	for i := range entries {
		require.NoError(t, db.Create(&entries[i]).Error)
	}

	requeued := sync.RequeueFailed(0)
	assert.Equal(t, int64(1), requeued)

	var pending int64
	require.NoError(t, db.Model(&models.SyncQueueEntry{}).
		Where("status = ?", models.QueueStatusPending).Count(&pending).Error)
	assert.Equal(t, int64(1), pending)

	// The exhausted entry stays FAILED.
	var exhausted models.SyncQueueEntry
	require.NoError(t, db.First(&exhausted, "entity_id = ?", "2").Error)
	assert.Equal(t, models.QueueStatusFailed, exhausted.Status)
}

func TestRequeueFailedReclaimsStaleClaims(t *testing.T) {
	sync, _, _, db := newSyncFixture(t)

	stale := models.SyncQueueEntry{
		Entity: models.EntitySignalement, EntityID: "dead", Action: models.ActionUpdate,
		Status: models.QueueStatusProcessing,
	}
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&stale).Error)

	fresh := models.SyncQueueEntry{
		Entity: models.EntitySignalement, EntityID: "live", Action: models.ActionUpdate,
		Status: models.QueueStatusProcessing,
	}
	require.NoError(t, db.Create(&fresh).Error)

	// Only the claim whose worker stopped making progress comes back.
	requeued := sync.RequeueFailed(0)
	assert.Equal(t, int64(1), requeued)

	var reclaimed, held models.SyncQueueEntry
	require.NoError(t, db.First(&reclaimed, "entity_id = ?", "dead").Error)
	assert.Equal(t, models.QueueStatusPending, reclaimed.Status)
	require.NoError(t, db.First(&held, "entity_id = ?", "live").Error)
	assert.Equal(t, models.QueueStatusProcessing, held.Status)
}

func TestProcessQueueSkipsClaimedEntries(t *testing.T) {
	sync, sigs, mem, db := newSyncFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "claim@example.com")
	_, err := sigs.Create(ctx, owner.ID, &dto.SignalementRequest{Description: "déjà prise"})
	require.NoError(t, err)

	// Another worker holds the claim.
	require.NoError(t, db.Model(&models.SyncQueueEntry{}).
		Where("status = ?", models.QueueStatusPending).
		Update("status", models.QueueStatusProcessing).Error)

	processed, failed := sync.ProcessQueue(ctx, 0)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, failed)
}

func TestEnqueueFailureNeverPropagates(t *testing.T) {
	sync, _, _, db := newSyncFixture(t)

	// Dropping the table turns every enqueue write into an error; the caller
	// still gets no failure signal.
	require.NoError(t, db.Migrator().DropTable(&models.SyncQueueEntry{}))
	sync.Enqueue(models.EntitySignalement, "1", models.ActionCreate, nil)
}
