package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rbelkhiri/signalement-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestTeeHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	tee := NewTeeHandler(
		slog.NewJSONHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	log := slog.New(tee)

	log.Info("routine event")
	log.Error("broken event", "error", "boom")

	assert.Equal(t, 2, strings.Count(a.String(), "\n"))
	assert.Equal(t, 1, strings.Count(b.String(), "\n"))
	assert.Contains(t, b.String(), "broken event")
}

func TestTeeHandlerRespectsLevels(t *testing.T) {
	var out bytes.Buffer
	tee := NewTeeHandler(slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelError}))

	assert.False(t, tee.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, tee.Enabled(context.Background(), slog.LevelError))
}

func TestDBHandlerPersistsErrors(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.SystemLog{}))

	h := NewDBHandler(db)
	defer h.Stop()

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, h.Enabled(context.Background(), slog.LevelError))

	log := slog.New(h)
	log.Error("queue entry failed", "action", "push", "error", "remote unreachable", "entry", 7)

	// Records buffer until a flush; force one instead of waiting the interval.
	h.flush()

	require.Eventually(t, func() bool {
		var count int64
		return db.Model(&models.SystemLog{}).Count(&count).Error == nil && count == 1
	}, time.Second, 10*time.Millisecond)

	var entry models.SystemLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, "queue entry failed", entry.Message)
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "push", entry.Action)
	assert.Equal(t, "remote unreachable", entry.Error)

	var extra map[string]any
	require.NoError(t, json.Unmarshal(entry.Extra, &extra))
	assert.EqualValues(t, 7, extra["entry"])
}
