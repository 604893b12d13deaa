package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ieraasyl/PulseClient/internal/database"
	"github.com/ieraasyl/PulseClient/internal/gateway"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/testutil"
	"github.com/ieraasyl/PulseClient/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAuthAPI is a mock implementation of AuthAPI
type MockAuthAPI struct {
	mock.Mock
}

func (m *MockAuthAPI) Login(ctx context.Context, req models.LoginRequest) (*models.AuthToken, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuthToken), args.Error(1)
}

func (m *MockAuthAPI) Register(ctx context.Context, req models.RegisterRequest) (*models.UserProfile, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

func (m *MockAuthAPI) Profile(ctx context.Context, token string) (*models.UserProfile, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

func (m *MockAuthAPI) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.UserProfile, error) {
	args := m.Called(ctx, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserProfile), args.Error(1)
}

func (m *MockAuthAPI) Logout(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

var testRules = config.AuthConfig{MinPassword: 6, RegisterMinPassword: 8, RegisterMinUsername: 3}

func setupSession(t *testing.T) (*SessionController, *MockAuthAPI, *database.MemoryStore) {
	t.Helper()
	api := new(MockAuthAPI)
	store := database.NewMemoryStore()
	return NewSessionController(api, store, testRules), api, store
}

func credentials() models.LoginRequest {
	return models.LoginRequest{Username: testutil.TestUsername, Password: testutil.TestPassword}
}

// recorder collects every published snapshot.
type recorder struct {
	mu    sync.Mutex
	snaps []models.Session
}

func (r *recorder) record(s models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) statuses() []models.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SessionStatus, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.Status)
	}
	return out
}

func authenticate(t *testing.T, c *SessionController, api *MockAuthAPI, token string) {
	t.Helper()
	api.On("Login", mock.Anything, credentials()).Return(&models.AuthToken{AccessToken: token, TokenType: "bearer"}, nil).Once()
	api.On("Profile", mock.Anything, token).Return(testutil.TestProfile(), nil).Once()

	snap, err := c.Login(context.Background(), credentials())
	require.NoError(t, err)
	require.Equal(t, models.StatusAuthenticated, snap.Status)
}

func TestLoginValidation(t *testing.T) {
	tests := []struct {
		name     string
		req      models.LoginRequest
		expected []string
	}{
		{"password too short", models.LoginRequest{Username: "jdoe", Password: "12345"}, []string{"password"}},
		{"empty username", models.LoginRequest{Username: "  ", Password: "123456"}, []string{"username"}},
		{"both", models.LoginRequest{}, []string{"username", "password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, api, _ := setupSession(t)

			snap, err := c.Login(context.Background(), tt.req)

			var v *ValidationError
			require.ErrorAs(t, err, &v)
			var fields []string
			for _, f := range v.Fields {
				fields = append(fields, f.Field)
			}
			assert.Equal(t, tt.expected, fields)
			assert.Equal(t, models.StatusUnauthenticated, snap.Status)
			api.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
		})
	}

	t.Run("six characters is enough", func(t *testing.T) {
		c, api, _ := setupSession(t)
		req := models.LoginRequest{Username: "jdoe", Password: "123456"}
		api.On("Login", mock.Anything, req).Return(nil, &gateway.APIError{StatusCode: http.StatusUnauthorized}).Once()

		_, err := c.Login(context.Background(), req)

		assert.True(t, IsAuthentication(err))
		api.AssertExpectations(t)
	})
}

func TestLogin(t *testing.T) {
	t.Run("success stores token and publishes", func(t *testing.T) {
		c, api, store := setupSession(t)
		rec := &recorder{}
		c.Subscribe(rec.record)

		authenticate(t, c, api, "tok-1")

		snap := c.Snapshot()
		assert.Equal(t, "tok-1", snap.Token)
		require.NotNil(t, snap.User)
		assert.Equal(t, testutil.TestUsername, snap.User.Username)
		assert.Equal(t, uint64(2), snap.Generation)

		token, err := store.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", token)

		assert.Equal(t, []models.SessionStatus{models.StatusAuthenticating, models.StatusAuthenticated}, rec.statuses())
		api.AssertExpectations(t)
	})

	t.Run("bad credentials enter Invalid", func(t *testing.T) {
		c, api, store := setupSession(t)
		api.On("Login", mock.Anything, credentials()).
			Return(nil, &gateway.APIError{StatusCode: http.StatusUnauthorized, Detail: "Incorrect username or password"}).Once()

		snap, err := c.Login(context.Background(), credentials())

		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "Incorrect username or password", authErr.Message)
		assert.Equal(t, models.StatusInvalid, snap.Status)
		assert.Nil(t, snap.User)

		present, err := store.IsPresent(context.Background())
		require.NoError(t, err)
		assert.False(t, present)
		api.AssertNotCalled(t, "Profile", mock.Anything, mock.Anything)
	})

	t.Run("retry allowed from Invalid", func(t *testing.T) {
		c, api, _ := setupSession(t)
		api.On("Login", mock.Anything, credentials()).Return(nil, errors.New("connection refused")).Once()

		_, err := c.Login(context.Background(), credentials())
		require.Error(t, err)
		assert.False(t, IsAuthentication(err))
		require.Equal(t, models.StatusInvalid, c.Snapshot().Status)

		authenticate(t, c, api, "tok-2")
	})

	t.Run("login while authenticated", func(t *testing.T) {
		c, api, _ := setupSession(t)
		authenticate(t, c, api, "tok-1")

		_, err := c.Login(context.Background(), credentials())

		assert.ErrorIs(t, err, ErrInvalidTransition)
		api.AssertNumberOfCalls(t, "Login", 1)
	})

	t.Run("profile failure enters Invalid", func(t *testing.T) {
		c, api, store := setupSession(t)
		api.On("Login", mock.Anything, credentials()).Return(&models.AuthToken{AccessToken: "tok"}, nil).Once()
		api.On("Profile", mock.Anything, "tok").Return(nil, &gateway.APIError{StatusCode: http.StatusBadGateway}).Once()

		snap, err := c.Login(context.Background(), credentials())

		require.Error(t, err)
		assert.Equal(t, models.StatusInvalid, snap.Status)
		present, _ := store.IsPresent(context.Background())
		assert.False(t, present)
	})
}

func TestLoginBusy(t *testing.T) {
	c, api, _ := setupSession(t)
	started := make(chan struct{})
	release := make(chan struct{})

	api.On("Login", mock.Anything, credentials()).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(&models.AuthToken{AccessToken: "tok"}, nil).Once()
	api.On("Profile", mock.Anything, "tok").Return(testutil.TestProfile(), nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background(), credentials())
		done <- err
	}()
	<-started

	_, err := c.Login(context.Background(), credentials())
	assert.ErrorIs(t, err, ErrBusy)

	_, err = c.Register(context.Background(), models.RegisterRequest{
		Username: "other", Email: "o@example.com", Password: "longenough", ConfirmPassword: "longenough",
	})
	assert.ErrorIs(t, err, ErrBusy)

	_, err = c.Resume(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, models.StatusAuthenticated, c.Snapshot().Status)
	api.AssertNumberOfCalls(t, "Login", 1)
	api.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestLoginDiscardedAfterLogout(t *testing.T) {
	c, api, store := setupSession(t)
	started := make(chan struct{})
	release := make(chan struct{})

	api.On("Login", mock.Anything, credentials()).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(&models.AuthToken{AccessToken: "late"}, nil).Once()
	api.On("Profile", mock.Anything, "late").Return(testutil.TestProfile(), nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background(), credentials())
		done <- err
	}()
	<-started

	require.NoError(t, c.Logout(context.Background()))
	close(release)

	assert.ErrorIs(t, <-done, ErrStaleResponse)
	assert.Equal(t, models.StatusUnauthenticated, c.Snapshot().Status)
	present, err := store.IsPresent(context.Background())
	require.NoError(t, err)
	assert.False(t, present, "stale token never persisted")
	api.AssertNotCalled(t, "Logout", mock.Anything, mock.Anything)
}

func TestRegister(t *testing.T) {
	valid := models.RegisterRequest{
		Username:        "newbie",
		Email:           "newbie@example.com",
		Password:        "longenough",
		ConfirmPassword: "longenough",
	}

	validation := []struct {
		name   string
		modify func(r *models.RegisterRequest)
		field  string
	}{
		{"short username", func(r *models.RegisterRequest) { r.Username = "ab" }, "username"},
		{"email without at", func(r *models.RegisterRequest) { r.Email = "newbie.example.com" }, "email"},
		{"email with two ats", func(r *models.RegisterRequest) { r.Email = "a@b@c" }, "email"},
		{"email without local part", func(r *models.RegisterRequest) { r.Email = "@example.com" }, "email"},
		{"email without domain", func(r *models.RegisterRequest) { r.Email = "newbie@" }, "email"},
		{"password below registration minimum", func(r *models.RegisterRequest) {
			r.Password, r.ConfirmPassword = "1234567", "1234567"
		}, "password"},
		{"confirmation mismatch", func(r *models.RegisterRequest) { r.ConfirmPassword = "different" }, "confirm_password"},
		{"non-positive calorie goal", func(r *models.RegisterRequest) { r.DailyCalorieGoal = testutil.FloatPtr(0) }, "daily_calorie_goal"},
	}

	for _, tt := range validation {
		t.Run(tt.name, func(t *testing.T) {
			c, api, _ := setupSession(t)
			req := valid
			tt.modify(&req)

			_, err := c.Register(context.Background(), req)

			var v *ValidationError
			require.ErrorAs(t, err, &v)
			require.Len(t, v.Fields, 1)
			assert.Equal(t, tt.field, v.Fields[0].Field)
			api.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
			assert.Equal(t, models.StatusUnauthenticated, c.Snapshot().Status)
		})
	}

	t.Run("success chains into login", func(t *testing.T) {
		c, api, store := setupSession(t)
		profile := testutil.TestProfileNamed("newbie")
		login := models.LoginRequest{Username: "newbie", Password: "longenough"}
		api.On("Register", mock.Anything, valid).Return(profile, nil).Once()
		api.On("Login", mock.Anything, login).Return(&models.AuthToken{AccessToken: "fresh"}, nil).Once()
		api.On("Profile", mock.Anything, "fresh").Return(profile, nil).Once()

		snap, err := c.Register(context.Background(), valid)

		require.NoError(t, err)
		assert.Equal(t, models.StatusAuthenticated, snap.Status)
		assert.Equal(t, "newbie", snap.User.Username)
		token, _ := store.Get(context.Background())
		assert.Equal(t, "fresh", token)
		api.AssertExpectations(t)
	})

	t.Run("server field errors", func(t *testing.T) {
		c, api, _ := setupSession(t)
		api.On("Register", mock.Anything, valid).Return(nil, &gateway.APIError{
			StatusCode: http.StatusUnprocessableEntity,
			Fields:     []gateway.FieldError{{Field: "email", Message: "value is not a valid email address"}},
		}).Once()

		snap, err := c.Register(context.Background(), valid)

		var v *ValidationError
		require.ErrorAs(t, err, &v)
		assert.Equal(t, "email", v.Fields[0].Field)
		assert.Equal(t, models.StatusInvalid, snap.Status)
		api.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
	})
}

func TestHandleUnauthorized(t *testing.T) {
	ctx := context.Background()

	t.Run("clears once, repeats are no-ops", func(t *testing.T) {
		c, api, store := setupSession(t)
		authenticate(t, c, api, "tok-1")
		rec := &recorder{}
		c.Subscribe(rec.record)

		c.HandleUnauthorized(ctx, "tok-1")
		first := c.Snapshot()
		c.HandleUnauthorized(ctx, "tok-1")
		c.HandleUnauthorized(ctx, "")

		assert.Equal(t, models.StatusUnauthenticated, first.Status)
		assert.Equal(t, first, c.Snapshot(), "second 401 changed nothing")
		present, err := store.IsPresent(ctx)
		require.NoError(t, err)
		assert.False(t, present)
		assert.Equal(t, []models.SessionStatus{models.StatusUnauthenticated}, rec.statuses())
	})

	t.Run("superseded token ignored", func(t *testing.T) {
		c, api, _ := setupSession(t)
		authenticate(t, c, api, "tok-new")

		c.HandleUnauthorized(ctx, "tok-old")

		assert.Equal(t, models.StatusAuthenticated, c.Snapshot().Status)
	})

	t.Run("ignored while authenticating", func(t *testing.T) {
		c, api, _ := setupSession(t)
		api.On("Login", mock.Anything, credentials()).
			Run(func(mock.Arguments) { c.HandleUnauthorized(ctx, "") }).
			Return(&models.AuthToken{AccessToken: "tok"}, nil).Once()
		api.On("Profile", mock.Anything, "tok").Return(testutil.TestProfile(), nil).Once()

		snap, err := c.Login(ctx, credentials())

		require.NoError(t, err)
		assert.Equal(t, models.StatusAuthenticated, snap.Status)
	})

	t.Run("concurrent 401s transition once", func(t *testing.T) {
		c, api, _ := setupSession(t)
		authenticate(t, c, api, "tok-1")
		rec := &recorder{}
		c.Subscribe(rec.record)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.HandleUnauthorized(ctx, "tok-1")
			}()
		}
		wg.Wait()

		assert.Len(t, rec.statuses(), 1)
		assert.Equal(t, uint64(3), c.Snapshot().Generation)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("remote failure still clears", func(t *testing.T) {
		c, api, store := setupSession(t)
		authenticate(t, c, api, "tok-1")
		api.On("Logout", mock.Anything, "tok-1").Return(errors.New("network down")).Once()

		require.NoError(t, c.Logout(ctx))

		snap := c.Snapshot()
		assert.Equal(t, models.StatusUnauthenticated, snap.Status)
		assert.Nil(t, snap.User)
		assert.Empty(t, snap.Token)
		present, _ := store.IsPresent(ctx)
		assert.False(t, present)
		api.AssertExpectations(t)
	})

	t.Run("unauthenticated is a no-op", func(t *testing.T) {
		c, api, _ := setupSession(t)

		require.NoError(t, c.Logout(ctx))

		assert.Equal(t, uint64(0), c.Snapshot().Generation)
		api.AssertNotCalled(t, "Logout", mock.Anything, mock.Anything)
	})
}

func TestResume(t *testing.T) {
	ctx := context.Background()

	t.Run("no stored token", func(t *testing.T) {
		c, api, _ := setupSession(t)

		snap, err := c.Resume(ctx)

		require.NoError(t, err)
		assert.Equal(t, models.StatusUnauthenticated, snap.Status)
		api.AssertNotCalled(t, "Profile", mock.Anything, mock.Anything)
	})

	t.Run("valid stored token", func(t *testing.T) {
		c, api, store := setupSession(t)
		require.NoError(t, store.Set(ctx, "kept"))
		api.On("Profile", mock.Anything, "kept").Return(testutil.TestProfile(), nil).Once()

		snap, err := c.Resume(ctx)

		require.NoError(t, err)
		assert.Equal(t, models.StatusAuthenticated, snap.Status)
		assert.Equal(t, "kept", snap.Token)
	})

	t.Run("rejected token is cleared", func(t *testing.T) {
		c, api, store := setupSession(t)
		require.NoError(t, store.Set(ctx, "expired"))
		api.On("Profile", mock.Anything, "expired").Return(nil, &gateway.APIError{StatusCode: http.StatusUnauthorized}).Once()

		snap, err := c.Resume(ctx)

		assert.True(t, IsAuthentication(err))
		assert.Equal(t, models.StatusInvalid, snap.Status)
		present, _ := store.IsPresent(ctx)
		assert.False(t, present)
	})

	t.Run("network failure keeps token", func(t *testing.T) {
		c, api, store := setupSession(t)
		require.NoError(t, store.Set(ctx, "kept"))
		api.On("Profile", mock.Anything, "kept").Return(nil, errors.New("dial tcp: refused")).Once()

		snap, err := c.Resume(ctx)

		require.Error(t, err)
		assert.Equal(t, models.StatusInvalid, snap.Status)
		has, err := c.HasCredential(ctx)
		require.NoError(t, err)
		assert.True(t, has)
	})
}

func TestProfileUpdates(t *testing.T) {
	ctx := context.Background()

	t.Run("requires authentication", func(t *testing.T) {
		c, _, _ := setupSession(t)

		_, err := c.RefreshProfile(ctx)

		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("refresh replaces user", func(t *testing.T) {
		c, api, _ := setupSession(t)
		authenticate(t, c, api, "tok-1")
		updated := testutil.TestProfile()
		updated.DisplayName = "Janet"
		api.On("Profile", mock.Anything, "tok-1").Return(updated, nil).Once()

		snap, err := c.RefreshProfile(ctx)

		require.NoError(t, err)
		assert.Equal(t, "Janet", snap.User.DisplayName)
		assert.Equal(t, models.StatusAuthenticated, snap.Status)
		assert.Equal(t, "tok-1", snap.Token)
	})

	t.Run("invalid calorie goal rejected locally", func(t *testing.T) {
		c, api, _ := setupSession(t)
		authenticate(t, c, api, "tok-1")

		_, err := c.UpdateProfile(ctx, models.ProfileUpdate{DailyCalorieGoal: testutil.FloatPtr(-5)})

		var v *ValidationError
		require.ErrorAs(t, err, &v)
		api.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything)
	})

	t.Run("update replaces user", func(t *testing.T) {
		c, api, _ := setupSession(t)
		authenticate(t, c, api, "tok-1")
		update := models.ProfileUpdate{DailyCalorieGoal: testutil.FloatPtr(1800)}
		updated := testutil.TestProfile()
		updated.DailyCalorieGoal = 1800
		api.On("UpdateProfile", mock.Anything, update).Return(updated, nil).Once()

		snap, err := c.UpdateProfile(ctx, update)

		require.NoError(t, err)
		assert.Equal(t, float64(1800), snap.User.DailyCalorieGoal)
	})
}

func TestSubscribe(t *testing.T) {
	c, api, _ := setupSession(t)
	rec := &recorder{}
	unsubscribe := c.Subscribe(rec.record)

	authenticate(t, c, api, "tok-1")

	rec.mu.Lock()
	rec.snaps[1].User.Username = "mutated"
	rec.mu.Unlock()
	assert.Equal(t, testutil.TestUsername, c.Snapshot().User.Username, "subscribers get copies")

	unsubscribe()
	unsubscribe()
	c.HandleUnauthorized(context.Background(), "tok-1")

	assert.Len(t, rec.statuses(), 2)
}

// TestSessionWithFakeAPI runs the controller against the real client and a
// fake backend, so 401s travel through the transport chain.
func TestSessionWithFakeAPI(t *testing.T) {
	ctx := context.Background()
	api := testutil.NewFakeAPI(t)
	store := database.NewMemoryStore()
	client := gateway.New(config.APIConfig{BaseURL: api.URL(), Timeout: 5 * time.Second, RetryAttempts: 1}, store)
	c := NewSessionController(client, store, testRules)
	client.SetUnauthorizedHandler(c.HandleUnauthorized)

	t.Run("short password never reaches the API", func(t *testing.T) {
		_, err := c.Login(ctx, models.LoginRequest{Username: testutil.TestUsername, Password: "12345"})

		var v *ValidationError
		require.ErrorAs(t, err, &v)
		assert.Equal(t, 0, api.TotalCalls())
	})

	t.Run("login then expiry", func(t *testing.T) {
		snap, err := c.Login(ctx, credentials())
		require.NoError(t, err)
		require.Equal(t, models.StatusAuthenticated, snap.Status)

		api.ExpireTokens()
		_, err = client.MealsByDate(ctx, "2024-01-15")
		assert.Equal(t, http.StatusUnauthorized, gateway.StatusCode(err))

		assert.Equal(t, models.StatusUnauthenticated, c.Snapshot().Status)
		has, err := c.HasCredential(ctx)
		require.NoError(t, err)
		assert.False(t, has)

		gen := c.Snapshot().Generation
		_, _ = client.MealsByDate(ctx, "2024-01-15")
		assert.Equal(t, gen, c.Snapshot().Generation, "second 401 is a no-op")
	})

	t.Run("resume from the store", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, api.IssueToken(testutil.TestUsername)))

		snap, err := c.Resume(ctx)

		require.NoError(t, err)
		assert.Equal(t, models.StatusAuthenticated, snap.Status)
	})

	t.Run("logout revokes remotely", func(t *testing.T) {
		token := c.Snapshot().Token
		require.NoError(t, c.Logout(ctx))

		assert.Equal(t, 1, api.Calls("POST /auth/logout"))
		_, err := client.Profile(ctx, token)
		assert.Equal(t, http.StatusUnauthorized, gateway.StatusCode(err))
		assert.Equal(t, models.StatusUnauthenticated, c.Snapshot().Status)
	})

	t.Run("forbidden ends the session", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, api.IssueToken(testutil.TestUsername)))
		snap, err := c.Resume(ctx)
		require.NoError(t, err)
		require.Equal(t, models.StatusAuthenticated, snap.Status)

		api.FailNext("GET /meals/date/{date}", http.StatusForbidden, `{"detail":"Not authenticated"}`)
		_, err = client.MealsByDate(ctx, "2024-01-15")

		assert.Equal(t, http.StatusForbidden, gateway.StatusCode(err))
		assert.Equal(t, models.StatusUnauthenticated, c.Snapshot().Status)
		has, err := c.HasCredential(ctx)
		require.NoError(t, err)
		assert.False(t, has)
	})
}
