// Package gateway is the client for the meal-logging REST API. It knows
// endpoints, payload shapes and error decoding; it holds no session state.
//
// Requests pass through the middleware transport chain, which attaches the
// stored bearer token and reports every 401 or 403 to the handler registered with
// SetUnauthorizedHandler, whichever endpoint produced it.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ieraasyl/PulseClient/internal/middleware"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/pkg/config"
	"github.com/ieraasyl/PulseClient/pkg/utils"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Client calls the meal-logging API.
type Client struct {
	baseURL string
	http    *http.Client
	retry   utils.RetryConfig

	mu             sync.RWMutex
	onUnauthorized middleware.UnauthorizedFunc
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	base http.RoundTripper
}

// WithBaseTransport replaces http.DefaultTransport at the bottom of the
// transport chain.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.base = rt }
}

// New creates a Client for cfg.BaseURL. tokens supplies the bearer token for
// requests that do not set one explicitly; it may be nil.
//
// Example:
//
//	client := gateway.New(cfg.API, store)
//	client.SetUnauthorizedHandler(session.HandleUnauthorized)
//	meals, err := client.MealsByDate(ctx, "2024-01-15")
func New(cfg config.APIConfig, tokens middleware.TokenSource, opts ...Option) *Client {
	o := clientOptions{base: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		retry:   utils.APIRetryConfig(cfg.RetryAttempts),
	}
	c.retry.Retryable = isTemporary

	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	c.http = &http.Client{
		Timeout: cfg.Timeout,
		Transport: middleware.Chain(o.base,
			middleware.RequestLogging(),
			middleware.APIMetrics(),
			limiter.Limit(),
			middleware.Bearer(tokens),
			middleware.Unauthorized(c.dispatchUnauthorized),
		),
	}

	return c
}

// SetUnauthorizedHandler registers fn to be called on every 401 or 403 response.
// Passing nil removes the handler.
func (c *Client) SetUnauthorizedHandler(fn middleware.UnauthorizedFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *Client) dispatchUnauthorized(ctx context.Context, usedToken string) {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn(ctx, usedToken)
	}
}

// Login exchanges credentials for an access token. The API expects an
// OAuth2 password form, not JSON.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (*models.AuthToken, error) {
	form := url.Values{}
	form.Set("username", req.Username)
	form.Set("password", req.Password)

	var token models.AuthToken
	err := c.do(ctx, call{
		method:      http.MethodPost,
		endpoint:    "/auth/login",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &token)
	if err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("login response carried no access token")
	}
	return &token, nil
}

// Register creates an account. A 422 carries field errors in APIError.Fields.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", "/auth/register", req, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Logout invalidates token on the server. token is sent explicitly because
// the local store is usually cleared before this call is made.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: "/auth/logout",
		token:    token,
	}, nil)
}

// Profile fetches the current user. A non-empty token overrides the stored
// one, which lets login verify a token before persisting it.
func (c *Client) Profile(ctx context.Context, token string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "/users/me",
		token:    token,
	}, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile applies update and returns the new profile.
func (c *Client) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := c.doJSON(ctx, http.MethodPut, "/users/me", "/users/me", update, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// MealsByDate lists the meals logged on date (YYYY-MM-DD).
func (c *Client) MealsByDate(ctx context.Context, date string) ([]models.MealEntry, error) {
	var meals []models.MealEntry
	err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "/meals/date/{date}",
		path:     "/meals/date/" + url.PathEscape(date),
	}, &meals)
	return meals, err
}

// ListMeals returns one page of meals, newest first.
func (c *Client) ListMeals(ctx context.Context, page utils.PageParams) ([]models.MealEntry, error) {
	var meals []models.MealEntry
	err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "/meals/all",
		query:    page.Query(),
	}, &meals)
	return meals, err
}

// Meal fetches one meal by id. An unknown id is a 404 APIError.
func (c *Client) Meal(ctx context.Context, mealID string) (*models.MealEntry, error) {
	var meal models.MealEntry
	err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "/meals/{meal_id}",
		path:     "/meals/" + url.PathEscape(mealID),
	}, &meal)
	if err != nil {
		return nil, err
	}
	return &meal, nil
}

// LogMeal creates a meal with its items and returns it as stored.
func (c *Client) LogMeal(ctx context.Context, meal models.MealCreate) (*models.MealEntry, error) {
	var created models.MealEntry
	if err := c.doJSON(ctx, http.MethodPost, "/meals/log", "/meals/log", meal, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteMeal removes a meal and all of its items.
func (c *Client) DeleteMeal(ctx context.Context, mealID string) error {
	return c.do(ctx, call{
		method:   http.MethodDelete,
		endpoint: "/meals/{meal_id}",
		path:     "/meals/" + url.PathEscape(mealID),
	}, nil)
}

// AddMealItem appends an item to an existing meal.
func (c *Client) AddMealItem(ctx context.Context, mealID string, item models.MealItemCreate) (*models.MealItem, error) {
	var created models.MealItem
	path := "/meals/" + url.PathEscape(mealID) + "/items"
	if err := c.doJSON(ctx, http.MethodPost, "/meals/{meal_id}/items", path, item, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteMealItem removes one item from a meal.
func (c *Client) DeleteMealItem(ctx context.Context, mealID, itemID string) error {
	return c.do(ctx, call{
		method:   http.MethodDelete,
		endpoint: "/meals/{meal_id}/items/{item_id}",
		path:     "/meals/" + url.PathEscape(mealID) + "/items/" + url.PathEscape(itemID),
	}, nil)
}

// DailyNutrition fetches the server-computed summary of date.
func (c *Client) DailyNutrition(ctx context.Context, date string) (*models.DailySummary, error) {
	var summary models.DailySummary
	err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "/nutrition/daily/{date}",
		path:     "/nutrition/daily/" + url.PathEscape(date),
	}, &summary)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// WeeklyNutrition fetches server summaries of the week ending at end. The
// server omits days without meals and orders rows newest first; see
// nutrition.AlignRange.
func (c *Client) WeeklyNutrition(ctx context.Context, end string) ([]models.DailySummary, error) {
	q := url.Values{}
	q.Set("end_date", end)

	var rows []models.DailySummary
	err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "/nutrition/weekly",
		query:    q,
	}, &rows)
	return rows, err
}

// NutritionRange fetches server summaries for [start, end].
func (c *Client) NutritionRange(ctx context.Context, start, end string) ([]models.DailySummary, error) {
	q := url.Values{}
	q.Set("start_date", start)
	q.Set("end_date", end)

	var rows []models.DailySummary
	err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: "/nutrition/range",
		query:    q,
	}, &rows)
	return rows, err
}

// GetMacroTargets fetches the saved targets. A user who never saved any
// gets a 404 APIError (see IsNotFound).
func (c *Client) GetMacroTargets(ctx context.Context) (*models.MacroTargets, error) {
	var targets models.MacroTargets
	if err := c.do(ctx, call{method: http.MethodGet, endpoint: "/macro-targets"}, &targets); err != nil {
		return nil, err
	}
	return &targets, nil
}

// UpdateMacroTargets saves targets. Callers validate first; the client
// sends whatever it is given.
func (c *Client) UpdateMacroTargets(ctx context.Context, targets models.MacroTargets) (*models.MacroTargets, error) {
	var saved models.MacroTargets
	if err := c.doJSON(ctx, http.MethodPut, "/macro-targets", "/macro-targets", targets, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

type call struct {
	method      string
	endpoint    string // route template, used for metrics and errors
	path        string // concrete path, defaults to endpoint
	query       url.Values
	body        []byte
	contentType string
	token       string // explicit bearer, overrides the token store
}

func (c *Client) doJSON(ctx context.Context, method, endpoint, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s body: %w", endpoint, err)
	}
	return c.do(ctx, call{
		method:      method,
		endpoint:    endpoint,
		path:        path,
		body:        body,
		contentType: "application/json",
	}, out)
}

// do sends a call and decodes a 2xx JSON body into out. GETs are retried on
// transport errors and temporary statuses; other methods are sent once.
func (c *Client) do(ctx context.Context, cl call, out interface{}) error {
	cfg := c.retry
	if cl.method != http.MethodGet {
		cfg.MaxAttempts = 1
	}

	return utils.Retry(ctx, cfg, func() error {
		return c.once(ctx, cl, out)
	})
}

func (c *Client) once(ctx context.Context, cl call, out interface{}) error {
	path := cl.path
	if path == "" {
		path = cl.endpoint
	}
	target := c.baseURL + path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}

	req, err := http.NewRequestWithContext(middleware.WithEndpoint(ctx, cl.endpoint), cl.method, target, body)
	if err != nil {
		return utils.Permanent(fmt.Errorf("failed to build %s request: %w", cl.endpoint, err))
	}
	req.Header.Set("Accept", "application/json")
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	if cl.token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", cl.method, cl.endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response: %w", cl.method, cl.endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, cl.method, cl.endpoint, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return utils.Permanent(fmt.Errorf("%s %s: failed to decode response: %w", cl.method, cl.endpoint, err))
	}
	return nil
}

// isTemporary decides which GET failures are retried: transport errors other
// than cancellation, and 5xx/429 responses.
func isTemporary(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
