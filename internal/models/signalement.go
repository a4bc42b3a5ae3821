package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Signalement is a reported worksite incident. RemoteID is the id of the
// mirrored document in the remote store, nil until the first successful push.
type Signalement struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	RemoteID    *string        `gorm:"size:128;index" json:"remote_id"`
	Description string         `gorm:"type:text;not null" json:"description"`
	Entreprise  string         `gorm:"size:255" json:"entreprise"`
	Position    datatypes.JSON `json:"position"`
	Status      string         `gorm:"size:30;default:'nouveau'" json:"status"`
	Surface     float64        `json:"surface"`
	Budget      float64        `json:"budget"`
	UserID      uuid.UUID      `gorm:"type:uuid;index" json:"user_id"`
	Date        *time.Time     `json:"date"`
	DateDebut   *time.Time     `json:"date_debut"`
	DateFin     *time.Time     `json:"date_fin"`
	Photos      datatypes.JSON `json:"photos"`
	SyncStatus  SyncStatus     `gorm:"size:10;default:'PENDING'" json:"sync_status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// PhotoList decodes the photos JSON column. A null or empty column yields an
// empty slice, never an error the caller has to branch on.
func (s *Signalement) PhotoList() []string {
	if len(s.Photos) == 0 {
		return nil
	}
	var names []string
	if err := json.Unmarshal(s.Photos, &names); err != nil {
		return nil
	}
	return names
}

// SetPhotos encodes the ordered filename list back into the photos column.
func (s *Signalement) SetPhotos(names []string) {
	b, err := json.Marshal(names)
	if err != nil {
		return
	}
	s.Photos = datatypes.JSON(b)
}

// HasPhoto reports whether filename is already attached to the record.
func (s *Signalement) HasPhoto(filename string) bool {
	for _, n := range s.PhotoList() {
		if n == filename {
			return true
		}
	}
	return false
}
