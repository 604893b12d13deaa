// Package models defines the domain types shared by the session, nutrition
// and gateway layers of the client. JSON tags follow the external API's wire
// format so payloads decode directly into these structs.
//
// Types in this package carry no behavior beyond decoding; all business rules
// live in internal/nutrition and internal/services.
package models

import (
	"time"
)

// UserProfile is the identity returned by the API for the logged-in user.
// A profile is always replaced wholesale on login or refresh, never patched
// in place.
//
// JSON example:
//
//	{
//	  "user_id": "550e8400-e29b-41d4-a716-446655440000",
//	  "username": "jdoe",
//	  "email": "jdoe@example.com",
//	  "display_name": "Jane",
//	  "daily_calorie_goal": 2000,
//	  "created_at": "2024-01-15T10:30:00Z",
//	  "updated_at": "2024-01-15T10:30:00Z"
//	}
type UserProfile struct {
	UserID           string    `json:"user_id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	DisplayName      string    `json:"display_name,omitempty"`
	DailyCalorieGoal float64   `json:"daily_calorie_goal,omitempty"` // kcal, positive when set
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AuthToken is the response of POST /auth/login.
type AuthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// LoginRequest carries the credentials for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest carries the payload for POST /auth/register.
// ConfirmPassword is checked locally and never sent.
type RegisterRequest struct {
	Username         string   `json:"username"`
	Email            string   `json:"email"`
	Password         string   `json:"password"`
	ConfirmPassword  string   `json:"-"`
	DailyCalorieGoal *float64 `json:"daily_calorie_goal,omitempty"`
}

// ProfileUpdate carries the optional fields for PUT /users/me.
type ProfileUpdate struct {
	DisplayName      *string  `json:"display_name,omitempty"`
	DailyCalorieGoal *float64 `json:"daily_calorie_goal,omitempty"`
}

// SessionStatus is the state of the client-side session machine.
type SessionStatus string

const (
	StatusUnauthenticated SessionStatus = "unauthenticated"
	StatusAuthenticating  SessionStatus = "authenticating"
	StatusAuthenticated   SessionStatus = "authenticated"
	StatusInvalid         SessionStatus = "invalid"
)

// Session is a read-only snapshot of the process-wide session state.
// The bearer token is excluded from JSON so snapshots can be handed to a UI
// without leaking the credential.
type Session struct {
	Status     SessionStatus `json:"status"`
	Token      string        `json:"-"`
	User       *UserProfile  `json:"user,omitempty"`
	Generation uint64        `json:"generation"` // bumped on every transition
}

// Authenticated reports whether the snapshot is in the Authenticated state.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated
}
