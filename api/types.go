// Package api defines the wire contract of the municipal-services backend:
// the response envelope, payload shapes, and request bodies. Nothing here
// performs I/O.
package api

import "time"

// Endpoint paths, relative to the configured base URL.
const (
	PathRegister    = "/auth/register"
	PathLogin       = "/auth/login"
	PathRefresh     = "/auth/refresh"
	PathLogout      = "/auth/logout"
	PathCurrentUser = "/auth/me"
)

// Envelope wraps every backend response. success=false is a uniform failure
// regardless of HTTP status.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *T     `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ErrorMessage picks the most specific failure text the envelope carries.
func (e Envelope[T]) ErrorMessage() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// User is the profile shape the backend returns.
type User struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Role            string     `json:"role"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	Phone           *string    `json:"phone,omitempty"`
	City            *string    `json:"city,omitempty"`
	IsResident      *bool      `json:"isResident,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
}

// TokenPair is the credential set minted on register/login/refresh.
// ExpiresIn is a relative duration string ("15m", "15d"); converting it to an
// absolute deadline is the client's job, at receipt time.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// AuthData is the register/login success payload.
type AuthData struct {
	User   User      `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// TokensData is the refresh success payload.
type TokensData struct {
	Tokens TokenPair `json:"tokens"`
}

// UserData is the current-user payload.
type UserData struct {
	User User `json:"user"`
}

type RegisterRequest struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	Phone      *string `json:"phone,omitempty"`
	City       *string `json:"city,omitempty"`
	IsResident *bool   `json:"isResident,omitempty"`
	Role       string  `json:"role,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
