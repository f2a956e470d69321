package dto

import "time"

// SignupRequest payload for new accounts.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Tier  string `json:"tier"`
}

// CSRFResponse carries a freshly issued anti-forgery token.
type CSRFResponse struct {
	Token     string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IdentityResponse describes the resolved caller.
type IdentityResponse struct {
	SubjectID string     `json:"subject_id"`
	Tier      string     `json:"tier"`
	Source    string     `json:"source"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
