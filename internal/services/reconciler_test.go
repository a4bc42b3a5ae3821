package services

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/rbelkhiri/signalement-backend/internal/config"
	"github.com/rbelkhiri/signalement-backend/internal/models"
	"github.com/rbelkhiri/signalement-backend/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newReconcilerFixture(t *testing.T) (*Reconciler, *remote.MemoryProvider, *gorm.DB, *config.Config) {
	t.Helper()
	db := newTestDB(t)
	cfg := newTestConfig(t)
	mem := remote.NewMemoryProvider()
	return NewReconciler(db, cfg, mem, mem, mem), mem, db, cfg
}

func TestPullRemoteToLocalCreatesAndIsIdempotent(t *testing.T) {
	rec, mem, db, _ := newReconcilerFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "pull@example.com")
	_, err := mem.AddSignalement(ctx, remote.SignalementDoc{
		Description: "mur fissuré",
		OwnerUID:    *owner.RemoteUID,
		Status:      "nouveau",
		Surface:     10,
	})
	require.NoError(t, err)

	counts, err := rec.PullRemoteToLocal(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
	assert.Equal(t, 1, counts.Created)
	assert.Equal(t, 0, counts.Errors)

	var sig models.Signalement
	require.NoError(t, db.First(&sig, "description = ?", "mur fissuré").Error)
	require.NotNil(t, sig.RemoteID)
	assert.Equal(t, owner.ID, sig.UserID)
	assert.Equal(t, models.SyncStatusSynced, sig.SyncStatus)

	// A second pass overwrites instead of duplicating.
	counts, err = rec.PullRemoteToLocal(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Created)
	assert.Equal(t, 1, counts.Updated)

	var total int64
	require.NoError(t, db.Model(&models.Signalement{}).Count(&total).Error)
	assert.Equal(t, int64(1), total)
}

func TestPullRemoteToLocalOverwritesLocalEdits(t *testing.T) {
	rec, mem, db, _ := newReconcilerFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "lww@example.com")
	docID, err := mem.AddSignalement(ctx, remote.SignalementDoc{
		Description: "version distante",
		OwnerUID:    *owner.RemoteUID,
		Status:      "nouveau",
	})
	require.NoError(t, err)

	_, err = rec.PullRemoteToLocal(ctx, 100)
	require.NoError(t, err)

	// A divergent local edit loses to the remote copy on the next pull.
	require.NoError(t, db.Model(&models.Signalement{}).
		Where("remote_id = ?", docID).Update("description", "édition locale").Error)

	_, err = rec.PullRemoteToLocal(ctx, 100)
	require.NoError(t, err)

	var sig models.Signalement
	require.NoError(t, db.First(&sig, "remote_id = ?", docID).Error)
	assert.Equal(t, "version distante", sig.Description)
}

func TestPullRemoteToLocalSkipsDegenerateDocs(t *testing.T) {
	rec, mem, db, _ := newReconcilerFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "skip@example.com")
	_, err := mem.AddSignalement(ctx, remote.SignalementDoc{Description: "", OwnerUID: *owner.RemoteUID})
	require.NoError(t, err)
	_, err = mem.AddSignalement(ctx, remote.SignalementDoc{Description: "sans propriétaire"})
	require.NoError(t, err)
	// An owner the user pass has not mirrored yet.
	_, err = mem.AddSignalement(ctx, remote.SignalementDoc{Description: "propriétaire inconnu", OwnerUID: "uid-missing"})
	require.NoError(t, err)

	counts, err := rec.PullRemoteToLocal(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 3, counts.Skipped)
	assert.Equal(t, 0, counts.Created)
	assert.Equal(t, 0, counts.Errors)
}

func TestPullPhotosInlineAndBlob(t *testing.T) {
	rec, mem, db, cfg := newReconcilerFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "photos@example.com")
	docID, err := mem.AddSignalement(ctx, remote.SignalementDoc{
		Description: "avec photos", OwnerUID: *owner.RemoteUID,
	})
	require.NoError(t, err)
	_, err = rec.PullRemoteToLocal(ctx, 100)
	require.NoError(t, err)

	_, err = mem.AddPhoto(ctx, remote.PhotoDoc{
		SignalementID: docID, Filename: "inline.jpg", Content: []byte("jpeg-bytes"),
	})
	require.NoError(t, err)
	mem.PutBlob("photos/stored.jpg", []byte("stored-bytes"))
	_, err = mem.AddPhoto(ctx, remote.PhotoDoc{
		SignalementID: docID, Filename: "stored.jpg", StoragePath: "photos/stored.jpg",
	})
	require.NoError(t, err)

	counts, err := rec.PullPhotos(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Created)
	assert.Equal(t, 0, counts.Errors)

	var sig models.Signalement
	require.NoError(t, db.First(&sig, "remote_id = ?", docID).Error)
	assert.ElementsMatch(t, []string{"inline.jpg", "stored.jpg"}, sig.PhotoList())

	dir := filepath.Join(cfg.UploadDir, strconv.FormatUint(uint64(sig.ID), 10))
	inline, err := os.ReadFile(filepath.Join(dir, "inline.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), inline)
	stored, err := os.ReadFile(filepath.Join(dir, "stored.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("stored-bytes"), stored)

	// A second pass sees both filenames already attached.
	counts, err = rec.PullPhotos(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Created)
	assert.Equal(t, 2, counts.Skipped)
}

func TestPushPhotosToRemote(t *testing.T) {
	rec, mem, db, cfg := newReconcilerFixture(t)
	ctx := context.Background()

	owner := createLinkedUser(t, db, mem, "pushphotos@example.com")
	remoteID := "doc-local-1"
	sig := models.Signalement{
		RemoteID:    &remoteID,
		Description: "photos locales",
		UserID:      owner.ID,
		SyncStatus:  models.SyncStatusSynced,
	}
	sig.SetPhotos([]string{"small.jpg", "huge.jpg", "present.jpg"})
	require.NoError(t, db.Create(&sig).Error)

	dir := filepath.Join(cfg.UploadDir, strconv.FormatUint(uint64(sig.ID), 10))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.jpg"), []byte("small"), 0o644))
	oversize := make([]byte, cfg.MaxPhotoBytes+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "huge.jpg"), oversize, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "present.jpg"), []byte("present"), 0o644))

	// present.jpg already exists remotely and must not be re-uploaded.
	_, err := mem.AddPhoto(ctx, remote.PhotoDoc{SignalementID: remoteID, Filename: "present.jpg", Content: []byte("present")})
	require.NoError(t, err)

	counts, err := rec.PushPhotosToRemote(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 1, counts.Created)
	assert.Equal(t, 2, counts.Skipped)
	assert.Equal(t, 0, counts.Errors)

	uploaded, err := mem.FindPhoto(ctx, remoteID, "small.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("small"), uploaded.Content)

	_, err = mem.FindPhoto(ctx, remoteID, "huge.jpg")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestSyncBidirectional(t *testing.T) {
	rec, mem, db, _ := newReconcilerFixture(t)
	ctx := context.Background()

	// A remote-only identity and a local-only account.
	_, err := mem.Create(ctx, "remote-only@example.com", "pw123456")
	require.NoError(t, err)
	localOnly := models.User{
		ID:       uuid.New(),
		Email:    "local-only@example.com",
		Password: "irrelevant-hash",
	}
	require.NoError(t, db.Create(&localOnly).Error)

	require.NoError(t, rec.SyncBidirectional(ctx))

	// The remote identity is mirrored locally with a link and a placeholder
	// credential.
	var mirrored models.User
	require.NoError(t, db.First(&mirrored, "email = ?", "remote-only@example.com").Error)
	require.NotNil(t, mirrored.RemoteUID)
	assert.NotEmpty(t, mirrored.Password)
	assert.Equal(t, models.SyncStatusSynced, mirrored.SyncStatus)

	// The local account now exists remotely and carries its uid.
	var pushed models.User
	require.NoError(t, db.First(&pushed, "email = ?", "local-only@example.com").Error)
	require.NotNil(t, pushed.RemoteUID)
	ru := mem.UserByUID(*pushed.RemoteUID)
	require.NotNil(t, ru)
	assert.Equal(t, "local-only@example.com", ru.Email)

	// Running it again changes nothing.
	require.NoError(t, rec.SyncBidirectional(ctx))
	var total int64
	require.NoError(t, db.Model(&models.User{}).Count(&total).Error)
	assert.Equal(t, int64(2), total)
}

func TestSyncBidirectionalLinksExistingEmail(t *testing.T) {
	rec, mem, db, _ := newReconcilerFixture(t)
	ctx := context.Background()

	ru, err := mem.Create(ctx, "linked@example.com", "pw123456")
	require.NoError(t, err)
	local := models.User{ID: uuid.New(), Email: "linked@example.com", Password: "hash"}
	require.NoError(t, db.Create(&local).Error)

	require.NoError(t, rec.SyncBidirectional(ctx))

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "email = ?", "linked@example.com").Error)
	require.NotNil(t, reloaded.RemoteUID)
	assert.Equal(t, ru.UID, *reloaded.RemoteUID)

	var total int64
	require.NoError(t, db.Model(&models.User{}).Count(&total).Error)
	assert.Equal(t, int64(1), total)
}
