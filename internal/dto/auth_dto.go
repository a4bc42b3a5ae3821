package dto

import "time"

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

type BlockRequest struct {
	Email           string `json:"email"`
	DurationMinutes int    `json:"duration_minutes"`
}

type UnblockRequest struct {
	Email string `json:"email"`
}

type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// AuthResponse reports which provider actually served the request: "remote"
// when the cloud identity service handled it, "local" after a fallback.
type AuthResponse struct {
	Provider    string       `json:"provider"`
	AccessToken string       `json:"access_token"`
	User        UserResponse `json:"user"`
}

// ResetPasswordResponse: the local path has no outbound mail channel, so it
// returns the generated temporary password directly. The remote path sends a
// reset email instead and leaves TempPassword empty.
type ResetPasswordResponse struct {
	Provider     string `json:"provider"`
	TempPassword string `json:"temp_password,omitempty"`
}

// UserSummary is the provider-agnostic listing shape.
type UserSummary struct {
	UID         string     `json:"uid"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Disabled    bool       `json:"disabled"`
	Provider    string     `json:"provider"`
	LastSignIn  *time.Time `json:"last_sign_in,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	DB        string `json:"db"`
	Mode      string `json:"mode"`
	Timestamp string `json:"timestamp"`
}
