// Package services holds the stateful client logic: the session state
// machine, nutrition rollups over local or remote data and the
// validate-then-submit flow for macro targets.
package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/ieraasyl/PulseClient/internal/middleware"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/pkg/config"
	"github.com/rs/zerolog/log"
)

// TokenStore persists the bearer credential. It is the only source of truth
// for whether a credential exists; SessionController never caches that
// answer.
type TokenStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	Clear(ctx context.Context) error
	IsPresent(ctx context.Context) (bool, error)
}

// AuthAPI is the subset of the API client the session needs.
type AuthAPI interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthToken, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.UserProfile, error)
	Profile(ctx context.Context, token string) (*models.UserProfile, error)
	UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.UserProfile, error)
	Logout(ctx context.Context, token string) error
}

// SessionController owns the process-wide session and is the only code that
// mutates it. States and transitions:
//
//	Unauthenticated --Login/Register/Resume--> Authenticating
//	Invalid         --Login/Register/Resume--> Authenticating
//	Authenticating  --success--> Authenticated
//	Authenticating  --failure--> Invalid
//	Authenticated   --Logout/401/403--> Unauthenticated
//
// Every change bumps Session.Generation. A network result is applied only if
// the generation it started under is still current; otherwise it is
// discarded with ErrStaleResponse. The mutex is never held across API calls,
// so a 401 raised by one of them can reach HandleUnauthorized.
//
// Subscribers are notified synchronously, in generation order, before the
// mutator returns. A notification older than one already delivered is
// dropped. Subscribers must not call mutators.
type SessionController struct {
	api   AuthAPI
	store TokenStore
	rules config.AuthConfig

	mu    sync.Mutex
	state models.Session

	subMu   sync.Mutex
	subs    map[int]func(models.Session)
	nextSub int

	notifyMu  sync.Mutex
	delivered uint64
}

// NewSessionController creates a controller in the Unauthenticated state.
//
// Parameters:
//   - api: API client (typically *gateway.Client)
//   - store: durable token store
//   - rules: minimum lengths checked before any network call
//
// Example:
//
//	session := services.NewSessionController(client, store, cfg.Auth)
//	client.SetUnauthorizedHandler(session.HandleUnauthorized)
//	if _, err := session.Resume(ctx); err != nil {
//	    log.Warn().Err(err).Msg("Stored session could not be resumed")
//	}
func NewSessionController(api AuthAPI, store TokenStore, rules config.AuthConfig) *SessionController {
	return &SessionController{
		api:   api,
		store: store,
		rules: rules,
		state: models.Session{Status: models.StatusUnauthenticated},
		subs:  make(map[int]func(models.Session)),
	}
}

// Snapshot returns a copy of the current session.
func (c *SessionController) Snapshot() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to receive every new session snapshot. The returned
// func removes the subscription.
func (c *SessionController) Subscribe(fn func(models.Session)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// HasCredential reports whether the token store holds a credential.
func (c *SessionController) HasCredential(ctx context.Context) (bool, error) {
	return c.store.IsPresent(ctx)
}

// Login validates credentials locally, then exchanges them for a token,
// fetches the profile with it and persists it.
//
// Returns:
//   - *ValidationError if the input is rejected locally; no request is made
//   - ErrBusy if another login or registration is in flight
//   - ErrInvalidTransition if already authenticated
//   - *AuthenticationError for bad credentials
//   - ErrStaleResponse if the session changed while waiting (e.g. logout)
func (c *SessionController) Login(ctx context.Context, req models.LoginRequest) (models.Session, error) {
	req.Username = strings.TrimSpace(req.Username)

	if err := c.validateLogin(req); err != nil {
		middleware.IncrementAuthAttempts("login", "invalid_input")
		return c.Snapshot(), err
	}

	gen, err := c.begin()
	if err != nil {
		return c.Snapshot(), err
	}

	return c.authenticate(ctx, gen, "login", req)
}

// Register validates the form locally, creates the account and logs in with
// the same credentials, reaching Authenticated in one call.
func (c *SessionController) Register(ctx context.Context, req models.RegisterRequest) (models.Session, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if err := c.validateRegister(req); err != nil {
		middleware.IncrementAuthAttempts("register", "invalid_input")
		return c.Snapshot(), err
	}

	gen, err := c.begin()
	if err != nil {
		return c.Snapshot(), err
	}

	if _, err := c.api.Register(ctx, req); err != nil {
		return c.fail(ctx, gen, "register", classify("register", err), true)
	}
	middleware.IncrementAuthAttempts("register", "success")

	log.Info().
		Str("username", req.Username).
		Msg("Account registered, logging in")

	return c.authenticate(ctx, gen, "login", models.LoginRequest{
		Username: req.Username,
		Password: req.Password,
	})
}

// Resume restores a session from the token store on startup. With no stored
// token it does nothing. A token the API rejects is cleared; other failures
// (e.g. network) keep it for the next attempt and leave the session Invalid.
func (c *SessionController) Resume(ctx context.Context) (models.Session, error) {
	c.mu.Lock()
	switch c.state.Status {
	case models.StatusAuthenticated:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	case models.StatusAuthenticating:
		c.mu.Unlock()
		return c.Snapshot(), ErrBusy
	}

	token, err := c.store.Get(ctx)
	if err != nil {
		c.mu.Unlock()
		return c.Snapshot(), fmt.Errorf("failed to read token store: %w", err)
	}
	if token == "" {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}

	snap := c.transitionLocked(models.StatusAuthenticating, "", nil)
	gen := snap.Generation
	c.mu.Unlock()
	c.publish(snap)

	profile, err := c.api.Profile(ctx, token)
	if err != nil {
		err = classify("resume", err)
		return c.fail(ctx, gen, "resume", err, IsAuthentication(err))
	}

	return c.complete(ctx, gen, "resume", token, profile, false)
}

// Logout clears the local session and the token store unconditionally, then
// asks the API to invalidate the token. A failed remote call is logged, not
// returned; the only error is a store that could not be cleared.
func (c *SessionController) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.state.Token
	var snap models.Session
	changed := c.state.Status != models.StatusUnauthenticated
	if changed {
		snap = c.transitionLocked(models.StatusUnauthenticated, "", nil)
	}
	clearErr := c.store.Clear(ctx)
	c.mu.Unlock()

	if changed {
		c.publish(snap)
	}

	if clearErr != nil {
		log.Error().
			Err(clearErr).
			Msg("Failed to clear token store on logout")
	}

	if token != "" {
		if err := c.api.Logout(ctx, token); err != nil {
			log.Warn().
				Err(err).
				Msg("Remote logout failed, local session already cleared")
		}
	}

	if clearErr != nil {
		return fmt.Errorf("failed to clear token store: %w", clearErr)
	}
	return nil
}

// HandleUnauthorized is the 401/403 signal from any API call. It moves an
// Authenticated session to Unauthenticated and clears the store. It is a
// no-op in every other state, and for a rejection caused by a token other than the
// live one.
func (c *SessionController) HandleUnauthorized(ctx context.Context, usedToken string) {
	c.mu.Lock()
	if c.state.Status != models.StatusAuthenticated {
		c.mu.Unlock()
		return
	}
	if usedToken != "" && usedToken != c.state.Token {
		c.mu.Unlock()
		log.Debug().Msg("Ignoring 401 for a superseded token")
		return
	}

	snap := c.transitionLocked(models.StatusUnauthenticated, "", nil)
	if err := c.store.Clear(ctx); err != nil {
		log.Error().
			Err(err).
			Msg("Failed to clear token store after 401")
	}
	c.mu.Unlock()

	log.Warn().
		Uint64("generation", snap.Generation).
		Msg("Session expired, login required")
	c.publish(snap)
}

// RefreshProfile fetches the profile again and replaces the session user.
func (c *SessionController) RefreshProfile(ctx context.Context) (models.Session, error) {
	token, gen, err := c.requireAuthenticated()
	if err != nil {
		return c.Snapshot(), err
	}

	profile, err := c.api.Profile(ctx, token)
	if err != nil {
		return c.Snapshot(), classify("refresh profile", err)
	}

	return c.replaceUser(gen, profile)
}

// UpdateProfile saves profile changes and replaces the session user with the
// API's answer. A daily calorie goal must be positive.
func (c *SessionController) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (models.Session, error) {
	v := &ValidationError{}
	if g := update.DailyCalorieGoal; g != nil && (*g <= 0 || math.IsNaN(*g) || math.IsInf(*g, 0)) {
		v.add("daily_calorie_goal", "must be a positive number")
	}
	if err := v.orNil(); err != nil {
		return c.Snapshot(), err
	}

	_, gen, err := c.requireAuthenticated()
	if err != nil {
		return c.Snapshot(), err
	}

	profile, err := c.api.UpdateProfile(ctx, update)
	if err != nil {
		return c.Snapshot(), classify("update profile", err)
	}

	return c.replaceUser(gen, profile)
}

func (c *SessionController) validateLogin(req models.LoginRequest) error {
	v := &ValidationError{}
	if req.Username == "" {
		v.add("username", "is required")
	}
	if len(req.Password) < c.rules.MinPassword {
		v.add("password", "must be at least %d characters", c.rules.MinPassword)
	}
	return v.orNil()
}

func (c *SessionController) validateRegister(req models.RegisterRequest) error {
	v := &ValidationError{}
	if len(req.Username) < c.rules.RegisterMinUsername {
		v.add("username", "must be at least %d characters", c.rules.RegisterMinUsername)
	}
	if !validEmail(req.Email) {
		v.add("email", "must be a valid email address")
	}
	if len(req.Password) < c.rules.RegisterMinPassword {
		v.add("password", "must be at least %d characters", c.rules.RegisterMinPassword)
	}
	if req.ConfirmPassword != req.Password {
		v.add("confirm_password", "passwords do not match")
	}
	if g := req.DailyCalorieGoal; g != nil && (*g <= 0 || math.IsNaN(*g) || math.IsInf(*g, 0)) {
		v.add("daily_calorie_goal", "must be a positive number")
	}
	return v.orNil()
}

// validEmail requires exactly one @ with non-empty local and domain parts.
func validEmail(email string) bool {
	if strings.Count(email, "@") != 1 {
		return false
	}
	local, domain, _ := strings.Cut(email, "@")
	return local != "" && domain != ""
}

// begin enters Authenticating and returns its generation.
func (c *SessionController) begin() (uint64, error) {
	c.mu.Lock()
	switch c.state.Status {
	case models.StatusAuthenticating:
		c.mu.Unlock()
		return 0, ErrBusy
	case models.StatusAuthenticated:
		c.mu.Unlock()
		return 0, ErrInvalidTransition
	}

	snap := c.transitionLocked(models.StatusAuthenticating, "", nil)
	c.mu.Unlock()
	c.publish(snap)

	return snap.Generation, nil
}

func (c *SessionController) authenticate(ctx context.Context, gen uint64, op string, req models.LoginRequest) (models.Session, error) {
	token, err := c.api.Login(ctx, req)
	if err != nil {
		return c.fail(ctx, gen, op, classify(op, err), true)
	}

	profile, err := c.api.Profile(ctx, token.AccessToken)
	if err != nil {
		return c.fail(ctx, gen, op, classify(op, err), true)
	}

	return c.complete(ctx, gen, op, token.AccessToken, profile, true)
}

// complete persists token and enters Authenticated if gen is still current.
func (c *SessionController) complete(ctx context.Context, gen uint64, op, token string, profile *models.UserProfile, persist bool) (models.Session, error) {
	c.mu.Lock()
	if c.state.Generation != gen {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		log.Warn().
			Str("operation", op).
			Uint64("started", gen).
			Uint64("current", snap.Generation).
			Msg("Discarding stale authentication result")
		return snap, ErrStaleResponse
	}

	if persist {
		if err := c.store.Set(ctx, token); err != nil {
			snap := c.transitionLocked(models.StatusInvalid, "", nil)
			c.mu.Unlock()
			middleware.IncrementAuthAttempts(op, "error")
			c.publish(snap)
			return snap, fmt.Errorf("failed to persist token: %w", err)
		}
	}

	snap := c.transitionLocked(models.StatusAuthenticated, token, profile)
	c.mu.Unlock()

	if op != "resume" {
		middleware.IncrementAuthAttempts(op, "success")
	}
	log.Info().
		Str("operation", op).
		Str("username", profile.Username).
		Msg("Authenticated")
	c.publish(snap)

	return snap, nil
}

// fail enters Invalid if gen is still current and returns err. With
// clearStore the token store is emptied as well.
func (c *SessionController) fail(ctx context.Context, gen uint64, op string, err error, clearStore bool) (models.Session, error) {
	c.mu.Lock()
	if c.state.Generation != gen {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		log.Warn().
			Err(err).
			Str("operation", op).
			Msg("Discarding stale authentication failure")
		return snap, ErrStaleResponse
	}

	snap := c.transitionLocked(models.StatusInvalid, "", nil)
	if clearStore {
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			log.Error().
				Err(clearErr).
				Msg("Failed to clear token store")
		}
	}
	c.mu.Unlock()

	result := "error"
	if IsAuthentication(err) {
		result = "rejected"
	}
	if op != "resume" {
		middleware.IncrementAuthAttempts(op, result)
	}
	log.Warn().
		Err(err).
		Str("operation", op).
		Msg("Authentication failed")
	c.publish(snap)

	return snap, err
}

func (c *SessionController) requireAuthenticated() (string, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != models.StatusAuthenticated {
		return "", 0, ErrInvalidTransition
	}
	return c.state.Token, c.state.Generation, nil
}

func (c *SessionController) replaceUser(gen uint64, profile *models.UserProfile) (models.Session, error) {
	c.mu.Lock()
	if c.state.Generation != gen {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrStaleResponse
	}
	snap := c.transitionLocked(models.StatusAuthenticated, c.state.Token, profile)
	c.mu.Unlock()

	c.publish(snap)
	return snap, nil
}

// transitionLocked applies a new state and returns its snapshot. The caller
// holds c.mu and must publish the snapshot after unlocking.
func (c *SessionController) transitionLocked(to models.SessionStatus, token string, user *models.UserProfile) models.Session {
	from := c.state.Status

	var owned *models.UserProfile
	if user != nil {
		u := *user
		owned = &u
	}

	c.state = models.Session{
		Status:     to,
		Token:      token,
		User:       owned,
		Generation: c.state.Generation + 1,
	}

	if from != to {
		middleware.RecordSessionTransition(string(from), string(to))
		log.Info().
			Str("from", string(from)).
			Str("to", string(to)).
			Uint64("generation", c.state.Generation).
			Msg("Session transition")
	}

	return c.snapshotLocked()
}

func (c *SessionController) snapshotLocked() models.Session {
	snap := c.state
	if snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	return snap
}

func (c *SessionController) publish(snap models.Session) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if snap.Generation <= c.delivered {
		return
	}
	c.delivered = snap.Generation

	c.subMu.Lock()
	subs := make([]func(models.Session), 0, len(c.subs))
	for id := 0; id < c.nextSub; id++ {
		if fn, ok := c.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		s := snap
		if s.User != nil {
			u := *s.User
			s.User = &u
		}
		fn(s)
	}
}
