package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rbelkhiri/signalement-backend/internal/connectivity"
	"github.com/rbelkhiri/signalement-backend/internal/database"
	"github.com/rbelkhiri/signalement-backend/internal/dto"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db    *gorm.DB
	probe *connectivity.Probe
}

func NewHealthHandler(db *gorm.DB, probe *connectivity.Probe) *HealthHandler {
	return &HealthHandler{db: db, probe: probe}
}

// Check reports the local store state plus the derived connectivity mode, so
// operators can see degraded mode without digging through logs.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	status := "ok"
	if err := database.Ping(h.db); err != nil {
		dbStatus = "error: " + err.Error()
		status = "degraded"
	}

	return c.JSON(dto.HealthResponse{
		Status:    status,
		DB:        dbStatus,
		Mode:      string(h.probe.CurrentMode(c.UserContext())),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
