// Package remote defines the surface consumed from the cloud identity and
// document provider. The rest of the system only sees these interfaces; the
// concrete transport (REST gateway, S3, in-memory) is wired in cmd/server.
package remote

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the looked-up identity or document does not
// exist on the remote side. Any other error means the call itself failed.
var ErrNotFound = errors.New("remote: not found")

// User is a remote identity as the provider reports it.
type User struct {
	UID           string     `json:"uid"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	EmailVerified bool       `json:"email_verified"`
	Disabled      bool       `json:"disabled"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	LastSignIn    *time.Time `json:"last_sign_in,omitempty"`
}

// UserUpdate carries the mutable identity fields; nil means leave unchanged.
type UserUpdate struct {
	Email         *string `json:"email,omitempty"`
	DisplayName   *string `json:"display_name,omitempty"`
	EmailVerified *bool   `json:"email_verified,omitempty"`
	Disabled      *bool   `json:"disabled,omitempty"`
	Password      *string `json:"password,omitempty"`
}

// Claims are the custom attributes attached to an identity, used here for
// the replicated lockout counters.
type Claims struct {
	FailedAttempts int        `json:"failed_attempts"`
	BlockedUntil   *time.Time `json:"blocked_until,omitempty"`
}

// IdentityProvider is the identity half of the remote surface.
type IdentityProvider interface {
	LookupByEmail(ctx context.Context, email string) (*User, error)
	SignIn(ctx context.Context, email, password string) (*User, string, error)
	Create(ctx context.Context, email, password string) (*User, error)
	Update(ctx context.Context, uid string, upd UserUpdate) (*User, error)
	Delete(ctx context.Context, uid string) error
	GetClaims(ctx context.Context, uid string) (Claims, error)
	SetClaims(ctx context.Context, uid string, claims Claims) error
	RevokeTokens(ctx context.Context, uid string) error
	SendPasswordReset(ctx context.Context, email string) error
	List(ctx context.Context, pageSize int, pageToken string) ([]User, string, error)
}

// SignalementDoc is a signalement document in the remote store.
type SignalementDoc struct {
	ID          string             `json:"id"`
	Description string             `json:"description"`
	Entreprise  string             `json:"entreprise"`
	Position    map[string]float64 `json:"position"`
	Status      string             `json:"status"`
	Surface     float64            `json:"surface"`
	Budget      float64            `json:"budget"`
	OwnerUID    string             `json:"owner_uid"`
	Photos      []string           `json:"photos"`
	Date        *time.Time         `json:"date,omitempty"`
	DateDebut   *time.Time         `json:"date_debut,omitempty"`
	DateFin     *time.Time         `json:"date_fin,omitempty"`
	UpdatedAt   *time.Time         `json:"updated_at,omitempty"`
}

// PhotoDoc is a photo document. Small images travel inline in Content;
// larger ones carry only a StoragePath to download from object storage.
type PhotoDoc struct {
	ID            string    `json:"id"`
	SignalementID string    `json:"signalement_id"`
	Filename      string    `json:"filename"`
	Content       []byte    `json:"content,omitempty"`
	StoragePath   string    `json:"storage_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DocumentStore is the document half of the remote surface: the
// signalements and photos collections plus the per-email attempt records
// mirrored there by the lockout tracker.
type DocumentStore interface {
	AddSignalement(ctx context.Context, doc SignalementDoc) (string, error)
	SetSignalement(ctx context.Context, id string, fields map[string]any, merge bool) error
	DeleteSignalement(ctx context.Context, id string) error
	ListSignalements(ctx context.Context, limit int) ([]SignalementDoc, error)

	AddPhoto(ctx context.Context, doc PhotoDoc) (string, error)
	FindPhoto(ctx context.Context, signalementID, filename string) (*PhotoDoc, error)
	ListPhotos(ctx context.Context, limit int) ([]PhotoDoc, error)

	GetAttempt(ctx context.Context, email string) (Claims, error)
	SetAttempt(ctx context.Context, email string, claims Claims) error
	ClearAttempt(ctx context.Context, email string) error
}

// BlobStorage downloads media referenced by a PhotoDoc.StoragePath.
type BlobStorage interface {
	Download(ctx context.Context, path string) ([]byte, error)
}
