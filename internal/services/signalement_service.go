package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rbelkhiri/signalement-backend/internal/dto"
	"github.com/rbelkhiri/signalement-backend/internal/models"
	"gorm.io/gorm"
)

// SignalementService is the data-access glue for signalements. Every write
// flips the row to PENDING and appends a queue entry inside the same logical
// operation; the enqueue itself can never fail the request.
type SignalementService struct {
	db   *gorm.DB
	sync *SyncService
}

func NewSignalementService(db *gorm.DB, sync *SyncService) *SignalementService {
	return &SignalementService{db: db, sync: sync}
}

func (s *SignalementService) Create(ctx context.Context, userID uuid.UUID, req *dto.SignalementRequest) (*models.Signalement, error) {
	if req.Description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}

	sig := models.Signalement{
		Description: req.Description,
		Entreprise:  req.Entreprise,
		Position:    positionJSON(req.Position),
		Status:      req.Status,
		Surface:     req.Surface,
		Budget:      req.Budget,
		UserID:      userID,
		Date:        req.Date,
		DateDebut:   req.DateDebut,
		DateFin:     req.DateFin,
		SyncStatus:  models.SyncStatusPending,
	}
	if sig.Status == "" {
		sig.Status = "nouveau"
	}
	if err := s.db.Create(&sig).Error; err != nil {
		return nil, fmt.Errorf("create signalement: %w", err)
	}

	s.sync.Enqueue(models.EntitySignalement, entityID(sig.ID), models.ActionCreate, &sig)
	return &sig, nil
}

func (s *SignalementService) Update(ctx context.Context, id uint, req *dto.SignalementRequest) (*models.Signalement, error) {
	var sig models.Signalement
	if err := s.db.First(&sig, "id = ?", id).Error; err != nil {
		return nil, ErrSignalementNotFound
	}

	sig.Description = req.Description
	sig.Entreprise = req.Entreprise
	sig.Position = positionJSON(req.Position)
	if req.Status != "" {
		sig.Status = req.Status
	}
	sig.Surface = req.Surface
	sig.Budget = req.Budget
	sig.Date = req.Date
	sig.DateDebut = req.DateDebut
	sig.DateFin = req.DateFin
	sig.SyncStatus = models.SyncStatusPending

	if err := s.db.Save(&sig).Error; err != nil {
		return nil, fmt.Errorf("update signalement: %w", err)
	}

	s.sync.Enqueue(models.EntitySignalement, entityID(sig.ID), models.ActionUpdate, &sig)
	return &sig, nil
}

func (s *SignalementService) Delete(ctx context.Context, id uint) error {
	var sig models.Signalement
	if err := s.db.First(&sig, "id = ?", id).Error; err != nil {
		return ErrSignalementNotFound
	}

	// Soft delete; the row stays as the queue entry's dispatch source.
	err := s.db.Model(&sig).Update("sync_status", models.SyncStatusPending).Error
	if err != nil {
		return fmt.Errorf("mark signalement pending: %w", err)
	}
	if err := s.db.Delete(&sig).Error; err != nil {
		return fmt.Errorf("delete signalement: %w", err)
	}

	s.sync.Enqueue(models.EntitySignalement, entityID(sig.ID), models.ActionDelete, &sig)
	return nil
}

func (s *SignalementService) Get(ctx context.Context, id uint) (*models.Signalement, error) {
	var sig models.Signalement
	if err := s.db.First(&sig, "id = ?", id).Error; err != nil {
		return nil, ErrSignalementNotFound
	}
	return &sig, nil
}

func (s *SignalementService) List(ctx context.Context, limit int) ([]models.Signalement, error) {
	if limit <= 0 {
		limit = 100
	}
	var sigs []models.Signalement
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&sigs).Error; err != nil {
		return nil, fmt.Errorf("list signalements: %w", err)
	}
	return sigs, nil
}

func entityID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
