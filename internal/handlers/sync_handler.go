package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rbelkhiri/signalement-backend/internal/dto"
	"github.com/rbelkhiri/signalement-backend/internal/services"
)

// SyncHandler is the operational surface: manual queue drains, requeues,
// reconciliation triggers and account block/unblock.
type SyncHandler struct {
	syncService *services.SyncService
	reconciler  *services.Reconciler
	authService *services.AuthService
}

func NewSyncHandler(syncService *services.SyncService, reconciler *services.Reconciler, authService *services.AuthService) *SyncHandler {
	return &SyncHandler{syncService: syncService, reconciler: reconciler, authService: authService}
}

func (h *SyncHandler) Drain(c *fiber.Ctx) error {
	processed, failed := h.syncService.ProcessQueue(c.UserContext(), c.QueryInt("limit", 0))
	return c.JSON(dto.QueueDrainResponse{Processed: processed, Failed: failed})
}

func (h *SyncHandler) Requeue(c *fiber.Ctx) error {
	n := h.syncService.RequeueFailed(c.QueryInt("max_retries", 0))
	return c.JSON(fiber.Map{"requeued": n})
}

func (h *SyncHandler) PullRecords(c *fiber.Ctx) error {
	counts, err := h.reconciler.PullRemoteToLocal(c.UserContext(), c.QueryInt("limit", 500))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}
	return c.JSON(counts)
}

func (h *SyncHandler) PullPhotos(c *fiber.Ctx) error {
	counts, err := h.reconciler.PullPhotos(c.UserContext(), c.QueryInt("limit", 500))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}
	return c.JSON(counts)
}

func (h *SyncHandler) PushPhotos(c *fiber.Ctx) error {
	counts, err := h.reconciler.PushPhotosToRemote(c.UserContext(), c.QueryInt("limit", 500))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}
	return c.JSON(counts)
}

func (h *SyncHandler) SyncUsers(c *fiber.Ctx) error {
	if err := h.reconciler.SyncBidirectional(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SyncHandler) Block(c *fiber.Ctx) error {
	var req dto.BlockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 1440
	}
	if err := h.authService.Block(c.UserContext(), req.Email, req.DurationMinutes); err != nil {
		return blockErrStatus(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SyncHandler) Unblock(c *fiber.Ctx) error {
	var req dto.UnblockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	if err := h.authService.Unblock(c.UserContext(), req.Email); err != nil {
		return blockErrStatus(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func blockErrStatus(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrUserNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error: true, Message: "Internal server error",
	})
}
