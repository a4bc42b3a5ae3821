package services

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rbelkhiri/signalement-backend/internal/config"
	"github.com/rbelkhiri/signalement-backend/internal/connectivity"
	"github.com/rbelkhiri/signalement-backend/internal/database"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		JWTSecret:        "test-secret",
		JWTExpiry:        time.Hour,
		MaxLoginAttempts: 3,
		LockoutDuration:  1440 * time.Minute,
		SyncBatchSize:    50,
		SyncMaxRetries:   5,
		UploadDir:        t.TempDir(),
		MaxPhotoBytes:    1048487,
		RemoteTimeout:    time.Second,
		InternetTimeout:  time.Second,
	}
}

// newTestProbe returns a probe whose provider check answers according to up.
func newTestProbe(t *testing.T, up bool) *connectivity.Probe {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	url := ts.URL
	if up {
		t.Cleanup(ts.Close)
	} else {
		ts.Close()
	}
	return connectivity.NewProbe(url, url, time.Second, time.Second)
}
