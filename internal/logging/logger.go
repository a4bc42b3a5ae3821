package logging

import (
	"log/slog"
	"os"

	"gorm.io/gorm"
)

// Setup installs the stdout JSON logger. It runs before the database is
// available; AttachDB upgrades the default logger once it is.
func Setup() {
	slog.SetDefault(slog.New(newStdoutHandler()))
}

// AttachDB swaps the default logger for a tee of stdout and the async
// database handler, so ERROR records also land in system_logs. The returned
// handler must be stopped on shutdown to flush its last batch.
func AttachDB(db *gorm.DB) *DBHandler {
	h := NewDBHandler(db)
	slog.SetDefault(slog.New(NewTeeHandler(newStdoutHandler(), h)))
	return h
}

func newStdoutHandler() slog.Handler {
	return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
}
