package handlers

import (
	"context"
	"net/http"

	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/pkg/utils"
)

// SessionService defines the session operations exposed by the dashboard.
// Implemented by *services.SessionController.
type SessionService interface {
	Snapshot() models.Session
	Login(ctx context.Context, req models.LoginRequest) (models.Session, error)
	Register(ctx context.Context, req models.RegisterRequest) (models.Session, error)
	Resume(ctx context.Context) (models.Session, error)
	Logout(ctx context.Context) error
}

// SessionHandler exposes the session to the dashboard UI. Responses carry
// the session snapshot; the bearer token never leaves the process.
type SessionHandler struct {
	session SessionService
}

// NewSessionHandler creates a session handler.
//
// Example:
//
//	sessionHandler := handlers.NewSessionHandler(sessionController)
//	r.Get("/api/session", sessionHandler.Get)
//	r.Post("/api/session/login", sessionHandler.Login)
func NewSessionHandler(session SessionService) *SessionHandler {
	return &SessionHandler{session: session}
}

// registerBody is the dashboard registration form. It differs from
// models.RegisterRequest in carrying the confirmation field.
type registerBody struct {
	Username         string   `json:"username"`
	Email            string   `json:"email"`
	Password         string   `json:"password"`
	ConfirmPassword  string   `json:"confirm_password"`
	DailyCalorieGoal *float64 `json:"daily_calorie_goal,omitempty"`
}

// Get returns the current session snapshot.
//
// Response example:
//
//	{"status": "authenticated", "user": {"username": "jdoe", ...}, "generation": 2}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, h.session.Snapshot())
}

// Login authenticates with {"username", "password"}.
//
// Status codes:
//   - 200: authenticated, body is the session
//   - 400: credentials rejected locally
//   - 401: credentials rejected by the API
//   - 409: another attempt is in flight, or already authenticated
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	snap, err := h.session.Login(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, snap)
}

// Register creates an account and logs in with it.
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if !decodeBody(w, r, &body) {
		return
	}

	snap, err := h.session.Register(r.Context(), models.RegisterRequest{
		Username:         body.Username,
		Email:            body.Email,
		Password:         body.Password,
		ConfirmPassword:  body.ConfirmPassword,
		DailyCalorieGoal: body.DailyCalorieGoal,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusCreated, snap)
}

// Resume restores the session from the token store.
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session.Resume(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, snap)
}

// Logout clears the session. It succeeds even if the API cannot be reached.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Logout(r.Context()); err != nil {
		utils.RespondWithError(w, r, http.StatusInternalServerError, "failed to clear stored credential")
		return
	}

	utils.RespondWithMessage(w, r, http.StatusOK, "Logged out successfully")
}
