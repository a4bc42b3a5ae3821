package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rbelkhiri/signalement-backend/internal/config"
	"github.com/rbelkhiri/signalement-backend/internal/connectivity"
	"github.com/rbelkhiri/signalement-backend/internal/dto"
	"github.com/rbelkhiri/signalement-backend/internal/models"
	"github.com/rbelkhiri/signalement-backend/internal/remote"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	ProviderRemote = "remote"
	ProviderLocal  = "local"
)

// AuthService runs every provider-sensitive flow remote-first with a local
// fallback. A remote failure is never surfaced to the caller; only failure of
// both stages is.
type AuthService struct {
	db        *gorm.DB
	cfg       *config.Config
	probe     *connectivity.Probe
	identity  remote.IdentityProvider
	tracker   *AttemptTracker
	reconcile chan<- string
}

// NewAuthService wires the orchestrator. reconcile receives the email of a
// remote-linked user after each successful local login; cmd/server owns the
// goroutine that turns those signals into reconciliation passes. A nil
// channel disables the trigger.
func NewAuthService(db *gorm.DB, cfg *config.Config, probe *connectivity.Probe,
	identity remote.IdentityProvider, tracker *AttemptTracker, reconcile chan<- string) *AuthService {
	return &AuthService{
		db:        db,
		cfg:       cfg,
		probe:     probe,
		identity:  identity,
		tracker:   tracker,
		reconcile: reconcile,
	}
}

func (s *AuthService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, ErrValidation
	}

	var remoteUID *string
	provider := ProviderLocal
	if s.probe.ProviderReachable(ctx) {
		ru, err := s.identity.Create(ctx, req.Email, req.Password)
		if err != nil {
			// Any remote failure, "already exists" included, falls through to
			// the local path; the local duplicate check re-detects conflicts.
			slog.Warn("remote registration failed, falling back to local", "email", req.Email, "error", err)
		} else {
			remoteUID = &ru.UID
			provider = ProviderRemote
		}
	}

	// Soft-deleted rows still hold the address.
	var existing models.User
	if err := s.db.Unscoped().Where("email = ?", req.Email).First(&existing).Error; err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		ID:         uuid.New(),
		Email:      req.Email,
		Password:   string(hash),
		RemoteUID:  remoteUID,
		SyncStatus: models.SyncStatusSynced,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.generateToken(&user, provider)
	if err != nil {
		return nil, err
	}
	return s.authResponse(&user, provider, token), nil
}

func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, ErrValidation
	}

	if s.probe.ProviderReachable(ctx) {
		if resp, err := s.remoteLogin(ctx, req); err == nil {
			return resp, nil
		} else {
			slog.Warn("remote login failed, falling back to local", "email", req.Email, "error", err)
		}
	}

	return s.localLogin(ctx, req)
}

func (s *AuthService) remoteLogin(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	ru, token, err := s.identity.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	// Best-effort local bookkeeping; the remote already authenticated.
	now := time.Now()
	err = s.db.Model(&models.User{}).Where("email = ?", req.Email).
		Updates(map[string]any{"last_login": now, "failed_attempts": 0, "blocked_until": nil}).Error
	if err != nil {
		slog.Warn("remote login: local bookkeeping update failed", "email", req.Email, "error", err)
	}

	return &dto.AuthResponse{
		Provider:    ProviderRemote,
		AccessToken: token,
		User: dto.UserResponse{
			ID:            ru.UID,
			Email:         ru.Email,
			EmailVerified: ru.EmailVerified,
		},
	}, nil
}

func (s *AuthService) localLogin(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	var user models.User
	if err := s.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		// Same message as a wrong password, to avoid account enumeration.
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	if user.Locked(now) {
		return nil, &LockedError{Until: *user.BlockedUntil}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		blocked, until := s.tracker.Increment(ctx, req.Email)
		if blocked && until != nil {
			return nil, &LockedError{Until: *until}
		}
		return nil, ErrInvalidCredentials
	}

	s.tracker.Reset(ctx, req.Email)
	if err := s.db.Model(&user).Update("last_login", now).Error; err != nil {
		slog.Warn("local login: last_login update failed", "email", req.Email, "error", err)
	}

	// A remote-linked account logging in locally means the provider was down
	// for this user at some point; signal the reconciler, never the caller.
	if user.RemoteUID != nil && s.reconcile != nil {
		select {
		case s.reconcile <- user.Email:
		default:
			slog.Warn("reconciliation trigger dropped, channel full", "email", user.Email)
		}
	}

	token, err := s.generateToken(&user, ProviderLocal)
	if err != nil {
		return nil, err
	}
	return s.authResponse(&user, ProviderLocal, token), nil
}

func (s *AuthService) ResetPassword(ctx context.Context, email string) (*dto.ResetPasswordResponse, error) {
	if email == "" {
		return nil, ErrValidation
	}

	if s.probe.ProviderReachable(ctx) {
		if err := s.identity.SendPasswordReset(ctx, email); err == nil {
			return &dto.ResetPasswordResponse{Provider: ProviderRemote}, nil
		} else {
			slog.Warn("remote password reset failed, falling back to local", "email", email, "error", err)
		}
	}

	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, ErrUserNotFound
	}

	temp := generateTempPassword()
	hash, err := bcrypt.GenerateFromPassword([]byte(temp), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.db.Model(&user).Update("password", string(hash)).Error; err != nil {
		return nil, fmt.Errorf("failed to store temporary password: %w", err)
	}

	// No outbound mail channel on the local path: the temporary password is
	// handed back in the response. Documented provider asymmetry.
	return &dto.ResetPasswordResponse{Provider: ProviderLocal, TempPassword: temp}, nil
}

// Logout is a successful no-op locally (tokens are discarded client-side) and
// a best-effort revocation remotely.
func (s *AuthService) Logout(ctx context.Context, email string) {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		return
	}
	if user.RemoteUID == nil {
		return
	}
	if err := s.identity.RevokeTokens(ctx, *user.RemoteUID); err != nil {
		slog.Warn("logout: remote sign-out failed", "email", email, "error", err)
	}
}

// ListUsers prefers the remote listing and falls back to the local table; the
// output shape is identical either way.
func (s *AuthService) ListUsers(ctx context.Context, max int) ([]dto.UserSummary, error) {
	if max <= 0 {
		max = 100
	}

	if s.probe.ProviderReachable(ctx) {
		if out, err := s.listRemote(ctx, max); err == nil {
			return out, nil
		} else {
			slog.Warn("remote user listing failed, falling back to local", "error", err)
		}
	}

	var users []models.User
	if err := s.db.Order("created_at").Limit(max).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	out := make([]dto.UserSummary, 0, len(users))
	for i := range users {
		u := &users[i]
		created := u.CreatedAt
		out = append(out, dto.UserSummary{
			UID:         u.ID.String(),
			Email:       u.Email,
			DisplayName: u.DisplayName,
			Disabled:    u.Locked(time.Now()),
			Provider:    ProviderLocal,
			LastSignIn:  u.LastLogin,
			CreatedAt:   &created,
		})
	}
	return out, nil
}

func (s *AuthService) listRemote(ctx context.Context, max int) ([]dto.UserSummary, error) {
	var out []dto.UserSummary
	token := ""
	for len(out) < max {
		page := max - len(out)
		if page > 100 {
			page = 100
		}
		users, next, err := s.identity.List(ctx, page, token)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			out = append(out, dto.UserSummary{
				UID:         u.UID,
				Email:       u.Email,
				DisplayName: u.DisplayName,
				Disabled:    u.Disabled,
				Provider:    ProviderRemote,
				LastSignIn:  u.LastSignIn,
				CreatedAt:   u.CreatedAt,
			})
		}
		if next == "" || len(users) == 0 {
			break
		}
		token = next
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Block disables the account for the given duration: best-effort on the
// remote side, unconditional in the local row.
func (s *AuthService) Block(ctx context.Context, email string, durationMinutes int) error {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		return ErrUserNotFound
	}

	until := time.Now().Add(time.Duration(durationMinutes) * time.Minute)

	if user.RemoteUID != nil {
		uid := *user.RemoteUID
		disabled := true
		if _, err := s.identity.Update(ctx, uid, remote.UserUpdate{Disabled: &disabled}); err != nil {
			slog.Warn("block: remote disable failed", "email", email, "error", err)
		}
		if err := s.identity.SetClaims(ctx, uid, remote.Claims{
			FailedAttempts: user.FailedAttempts,
			BlockedUntil:   &until,
		}); err != nil {
			slog.Warn("block: remote claims update failed", "email", email, "error", err)
		}
		if err := s.identity.RevokeTokens(ctx, uid); err != nil {
			slog.Warn("block: remote token revocation failed", "email", email, "error", err)
		}
	}

	return s.db.Model(&user).Update("blocked_until", until).Error
}

// Unblock re-enables the account on both sides and resets attempt counters.
func (s *AuthService) Unblock(ctx context.Context, email string) error {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		return ErrUserNotFound
	}
	s.tracker.Reset(ctx, email)
	return nil
}

func (s *AuthService) generateToken(user *models.User, provider string) (string, error) {
	claims := jwt.MapClaims{
		"sub":      user.ID.String(),
		"email":    user.Email,
		"provider": provider,
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(s.cfg.JWTExpiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *AuthService) authResponse(user *models.User, provider, token string) *dto.AuthResponse {
	return &dto.AuthResponse{
		Provider:    provider,
		AccessToken: token,
		User: dto.UserResponse{
			ID:            user.ID.String(),
			Email:         user.Email,
			EmailVerified: user.EmailVerified,
		},
	}
}

// generateTempPassword returns a random url-safe password for local resets
// and for remote identities created during reconciliation.
func generateTempPassword() string {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand failing means the process is in a bad state; fall back
		// to a uuid rather than returning a constant.
		return uuid.NewString()
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// IsLocked is a small helper for handlers that need to branch on the typed
// lockout error.
func IsLocked(err error) (*LockedError, bool) {
	var le *LockedError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
