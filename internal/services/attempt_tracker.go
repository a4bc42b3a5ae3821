package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/rbelkhiri/signalement-backend/internal/config"
	"github.com/rbelkhiri/signalement-backend/internal/models"
	"github.com/rbelkhiri/signalement-backend/internal/remote"
	"gorm.io/gorm"
)

// AttemptTracker replicates login-failure counters and lockouts across three
// stores: the remote identity's custom claims, the local users row and the
// remote attempt document. Each store is updated independently; one failing
// branch never aborts the others.
type AttemptTracker struct {
	db       *gorm.DB
	cfg      *config.Config
	identity remote.IdentityProvider
	docs     remote.DocumentStore
}

func NewAttemptTracker(db *gorm.DB, cfg *config.Config, identity remote.IdentityProvider, docs remote.DocumentStore) *AttemptTracker {
	return &AttemptTracker{db: db, cfg: cfg, identity: identity, docs: docs}
}

// Increment records one failed login for email and returns whether the
// account just crossed the lockout threshold, with the lockout expiry.
func (t *AttemptTracker) Increment(ctx context.Context, email string) (bool, *time.Time) {
	var user models.User
	hasLocal := t.db.Where("email = ?", email).First(&user).Error == nil

	attempts := t.priorAttempts(ctx, email, &user, hasLocal) + 1

	var until *time.Time
	if attempts >= t.cfg.MaxLoginAttempts {
		u := time.Now().Add(t.cfg.LockoutDuration)
		until = &u
	}
	claims := remote.Claims{FailedAttempts: attempts, BlockedUntil: until}

	t.updateRemote(ctx, &user, hasLocal, claims)
	t.updateLocal(email, attempts, until, hasLocal)
	t.updateAttemptDoc(ctx, email, claims)

	return until != nil, until
}

// Reset clears counters and lockouts in all three stores after a successful
// login or an explicit unblock. Tokens are revoked again so a previously
// blocked session has to re-authenticate.
func (t *AttemptTracker) Reset(ctx context.Context, email string) {
	var user models.User
	hasLocal := t.db.Where("email = ?", email).First(&user).Error == nil

	if hasLocal && user.RemoteUID != nil {
		uid := *user.RemoteUID
		if err := t.identity.SetClaims(ctx, uid, remote.Claims{}); err != nil {
			slog.Warn("reset: remote claims update failed", "email", email, "error", err)
		}
		disabled := false
		if _, err := t.identity.Update(ctx, uid, remote.UserUpdate{Disabled: &disabled}); err != nil {
			slog.Warn("reset: remote enable failed", "email", email, "error", err)
		}
		if err := t.identity.RevokeTokens(ctx, uid); err != nil {
			slog.Warn("reset: remote token revocation failed", "email", email, "error", err)
		}
	}

	if hasLocal {
		err := t.db.Model(&models.User{}).Where("email = ?", email).
			Updates(map[string]any{"failed_attempts": 0, "blocked_until": nil}).Error
		if err != nil {
			slog.Error("reset: local counter update failed", "email", email, "error", err)
		}
	}

	if err := t.docs.ClearAttempt(ctx, email); err != nil {
		slog.Warn("reset: attempt document clear failed", "email", email, "error", err)
	}
}

// priorAttempts prefers the remote claims when an identity link exists, then
// the local row, then the attempt document.
func (t *AttemptTracker) priorAttempts(ctx context.Context, email string, user *models.User, hasLocal bool) int {
	if hasLocal && user.RemoteUID != nil {
		claims, err := t.identity.GetClaims(ctx, *user.RemoteUID)
		if err == nil {
			return claims.FailedAttempts
		}
		slog.Warn("increment: remote claims read failed, using local counter", "email", email, "error", err)
	}
	if hasLocal {
		return user.FailedAttempts
	}
	claims, err := t.docs.GetAttempt(ctx, email)
	if err != nil {
		return 0
	}
	return claims.FailedAttempts
}

func (t *AttemptTracker) updateRemote(ctx context.Context, user *models.User, hasLocal bool, claims remote.Claims) {
	if !hasLocal || user.RemoteUID == nil {
		return
	}
	uid := *user.RemoteUID
	if err := t.identity.SetClaims(ctx, uid, claims); err != nil {
		slog.Warn("increment: remote claims update failed", "uid", uid, "error", err)
	}
	if claims.BlockedUntil == nil {
		return
	}
	disabled := true
	if _, err := t.identity.Update(ctx, uid, remote.UserUpdate{Disabled: &disabled}); err != nil {
		slog.Warn("increment: remote disable failed", "uid", uid, "error", err)
	}
	if err := t.identity.RevokeTokens(ctx, uid); err != nil {
		slog.Warn("increment: remote token revocation failed", "uid", uid, "error", err)
	}
}

func (t *AttemptTracker) updateLocal(email string, attempts int, until *time.Time, hasLocal bool) {
	if !hasLocal {
		return
	}
	err := t.db.Model(&models.User{}).Where("email = ?", email).
		Updates(map[string]any{"failed_attempts": attempts, "blocked_until": until}).Error
	if err != nil {
		slog.Error("increment: local counter update failed", "email", email, "error", err)
	}
}

func (t *AttemptTracker) updateAttemptDoc(ctx context.Context, email string, claims remote.Claims) {
	if err := t.docs.SetAttempt(ctx, email, claims); err != nil {
		slog.Warn("increment: attempt document update failed", "email", email, "error", err)
	}
}
