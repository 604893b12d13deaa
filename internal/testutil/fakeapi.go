package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/nutrition"
)

// FakeAPI is an in-process stand-in for the meal-logging API. It issues
// HS256 access tokens like the real backend, keeps users, meals and macro
// targets in memory and counts calls per route so tests can assert that no
// request was made.
//
// Routes are keyed as "METHOD pattern", e.g. "POST /auth/login" or
// "GET /meals/date/{date}".
type FakeAPI struct {
	server *httptest.Server
	secret []byte

	mu       sync.Mutex
	users    map[string]*fakeUser
	revoked  map[string]bool
	epoch    int
	calls    map[string]int
	failures map[string][]scriptedResponse
	holds    map[string]chan struct{}
}

type fakeUser struct {
	profile  models.UserProfile
	password string
	meals    []storedMeal
	targets  *models.MacroTargets
}

type storedMeal struct {
	date string
	raw  json.RawMessage
}

type scriptedResponse struct {
	status int
	body   string
}

type fakeClaims struct {
	Version int `json:"ver"`
	jwt.RegisteredClaims
}

// NewFakeAPI starts a FakeAPI seeded with the TestUsername/TestPassword
// user. The server is closed when the test ends.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()

	f := &FakeAPI{
		secret:   []byte("fake-api-signing-secret-for-tests-only"),
		users:    make(map[string]*fakeUser),
		revoked:  make(map[string]bool),
		calls:    make(map[string]int),
		failures: make(map[string][]scriptedResponse),
		holds:    make(map[string]chan struct{}),
	}
	f.AddUser(TestPassword, *TestProfile())

	r := chi.NewRouter()
	f.handle(r, http.MethodPost, "/auth/register", f.register)
	f.handle(r, http.MethodPost, "/auth/login", f.login)
	f.handle(r, http.MethodPost, "/auth/logout", f.authed(f.logout))
	f.handle(r, http.MethodGet, "/users/me", f.authed(f.me))
	f.handle(r, http.MethodPut, "/users/me", f.authed(f.updateMe))
	f.handle(r, http.MethodGet, "/meals/all", f.authed(f.allMeals))
	f.handle(r, http.MethodGet, "/meals/date/{date}", f.authed(f.mealsByDate))
	f.handle(r, http.MethodPost, "/meals/log", f.authed(f.logMeal))
	f.handle(r, http.MethodGet, "/meals/{meal_id}", f.authed(f.getMeal))
	f.handle(r, http.MethodDelete, "/meals/{meal_id}", f.authed(f.deleteMeal))
	f.handle(r, http.MethodPost, "/meals/{meal_id}/items", f.authed(f.addItem))
	f.handle(r, http.MethodDelete, "/meals/{meal_id}/items/{item_id}", f.authed(f.deleteItem))
	f.handle(r, http.MethodGet, "/nutrition/daily/{date}", f.authed(f.daily))
	f.handle(r, http.MethodGet, "/nutrition/weekly", f.authed(f.weekly))
	f.handle(r, http.MethodGet, "/nutrition/range", f.authed(f.rangeSummary))
	f.handle(r, http.MethodGet, "/macro-targets", f.authed(f.getTargets))
	f.handle(r, http.MethodPut, "/macro-targets", f.authed(f.putTargets))

	f.server = httptest.NewServer(r)
	t.Cleanup(f.Close)

	return f
}

// URL returns the base URL of the fake API.
func (f *FakeAPI) URL() string {
	return f.server.URL
}

// Close stops the server and releases held requests.
func (f *FakeAPI) Close() {
	f.mu.Lock()
	for key, ch := range f.holds {
		close(ch)
		delete(f.holds, key)
	}
	f.mu.Unlock()
	f.server.Close()
}

// AddUser registers a user with password.
func (f *FakeAPI) AddUser(password string, profile models.UserProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[profile.Username] = &fakeUser{profile: profile, password: password}
}

// AddMeal stores a meal for username.
func (f *FakeAPI) AddMeal(username string, meal models.MealEntry) {
	raw, err := json.Marshal(meal)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal meal: %v", err))
	}
	f.AddRawMeal(username, meal.Date, string(raw))
}

// AddRawMeal stores a meal payload verbatim, so tests can serve records the
// real API might send but MealEntry would never encode.
func (f *FakeAPI) AddRawMeal(username, date, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[username]
	u.meals = append(u.meals, storedMeal{date: date, raw: json.RawMessage(raw)})
}

// Meals returns the decodable meals stored for username.
func (f *FakeAPI) Meals(username string) []models.MealEntry {
	f.mu.Lock()
	u := f.users[username]
	f.mu.Unlock()
	return f.decodeMeals(u)
}

// SetTargets stores macro targets for username.
func (f *FakeAPI) SetTargets(username string, t models.MacroTargets) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[username].targets = &t
}

// Targets returns the stored macro targets of username, or nil.
func (f *FakeAPI) Targets(username string) *models.MacroTargets {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[username].targets
}

// Calls returns how many requests reached route, e.g. "POST /auth/login".
func (f *FakeAPI) Calls(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

// TotalCalls returns the number of requests received on any route.
func (f *FakeAPI) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// FailNext makes the next request to route return status with a JSON body.
// Calls queue up: FailNext twice fails the next two requests.
func (f *FakeAPI) FailNext(route string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[route] = append(f.failures[route], scriptedResponse{status: status, body: body})
}

// Hold blocks requests to route until the returned release func is called.
// Requests are counted as soon as they arrive.
func (f *FakeAPI) Hold(route string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[route] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.holds[route] == ch {
				delete(f.holds, route)
				close(ch)
			}
			f.mu.Unlock()
		})
	}
}

// ExpireTokens invalidates every token issued so far; the next
// authenticated request answers 401.
func (f *FakeAPI) ExpireTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epoch++
}

// IssueToken returns a valid token for username without a login call.
func (f *FakeAPI) IssueToken(username string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issue(username)
}

func (f *FakeAPI) issue(username string) string {
	now := time.Now()
	claims := fakeClaims{
		Version: f.epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.secret)
	if err != nil {
		panic(fmt.Sprintf("testutil: sign token: %v", err))
	}
	return signed
}

func (f *FakeAPI) handle(r chi.Router, method, pattern string, h http.HandlerFunc) {
	key := method + " " + pattern
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.calls[key]++
		hold := f.holds[key]
		var scripted *scriptedResponse
		if queue := f.failures[key]; len(queue) > 0 {
			scripted = &queue[0]
			f.failures[key] = queue[1:]
		}
		f.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-req.Context().Done():
				return
			}
		}

		if scripted != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(scripted.status)
			w.Write([]byte(scripted.body))
			return
		}

		h(w, req)
	}))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, u *fakeUser, claims *fakeClaims)

func (f *FakeAPI) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &fakeClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return f.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		f.mu.Lock()
		u := f.users[claims.Subject]
		valid := err == nil && u != nil && claims.Version == f.epoch && !f.revoked[claims.ID]
		f.mu.Unlock()

		if !valid {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		h(w, r, u, claims)
	}
}

func (f *FakeAPI) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username         string   `json:"username"`
		Email            string   `json:"email"`
		Password         string   `json:"password"`
		DailyCalorieGoal *float64 `json:"daily_calorie_goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid JSON body")
		return
	}

	var problems []map[string]interface{}
	addProblem := func(field, msg string) {
		problems = append(problems, map[string]interface{}{
			"loc":  []string{"body", field},
			"msg":  msg,
			"type": "value_error",
		})
	}
	if len(req.Username) < 3 {
		addProblem("username", "ensure this value has at least 3 characters")
	}
	if !strings.Contains(req.Email, "@") {
		addProblem("email", "value is not a valid email address")
	}
	if len(req.Password) < 8 {
		addProblem("password", "ensure this value has at least 8 characters")
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"detail": problems})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[req.Username]; exists {
		writeDetail(w, http.StatusBadRequest, "Username already registered")
		return
	}

	now := time.Now().UTC()
	profile := models.UserProfile{
		UserID:           uuid.New().String(),
		Username:         req.Username,
		Email:            req.Email,
		DailyCalorieGoal: 2000,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.DailyCalorieGoal != nil {
		profile.DailyCalorieGoal = *req.DailyCalorieGoal
	}
	f.users[req.Username] = &fakeUser{profile: profile, password: req.Password}

	writeJSON(w, http.StatusCreated, profile)
}

func (f *FakeAPI) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid form body")
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok || u.password != password {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	writeJSON(w, http.StatusOK, models.AuthToken{AccessToken: f.issue(username), TokenType: "bearer"})
}

func (f *FakeAPI) logout(w http.ResponseWriter, r *http.Request, u *fakeUser, claims *fakeClaims) {
	f.mu.Lock()
	f.revoked[claims.ID] = true
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (f *FakeAPI) me(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	f.mu.Lock()
	profile := u.profile
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, profile)
}

func (f *FakeAPI) updateMe(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	var update models.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid JSON body")
		return
	}
	if update.DailyCalorieGoal != nil && *update.DailyCalorieGoal <= 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "daily_calorie_goal must be positive")
		return
	}

	f.mu.Lock()
	if update.DisplayName != nil {
		u.profile.DisplayName = *update.DisplayName
	}
	if update.DailyCalorieGoal != nil {
		u.profile.DailyCalorieGoal = *update.DailyCalorieGoal
	}
	u.profile.UpdatedAt = time.Now().UTC()
	profile := u.profile
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, profile)
}

func (f *FakeAPI) allMeals(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	f.mu.Lock()
	meals := append([]storedMeal(nil), u.meals...)
	f.mu.Unlock()

	sort.SliceStable(meals, func(i, j int) bool { return meals[i].date > meals[j].date })
	if offset > len(meals) {
		offset = len(meals)
	}
	end := offset + limit
	if end > len(meals) {
		end = len(meals)
	}
	writeRawList(w, meals[offset:end])
}

func (f *FakeAPI) mealsByDate(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	date := chi.URLParam(r, "date")
	writeRawList(w, f.mealsOn(u, date))
}

func (f *FakeAPI) daily(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	date := chi.URLParam(r, "date")
	writeJSON(w, http.StatusOK, nutrition.SummarizeDay(f.decodeMeals(u), date))
}

func (f *FakeAPI) weekly(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	end := r.URL.Query().Get("end_date")
	if end == "" {
		end = time.Now().Format(nutrition.DateLayout)
	}
	f.writeSparseRange(w, u, end, nutrition.DefaultRangeDays)
}

func (f *FakeAPI) rangeSummary(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	start, err1 := time.Parse(nutrition.DateLayout, r.URL.Query().Get("start_date"))
	end, err2 := time.Parse(nutrition.DateLayout, r.URL.Query().Get("end_date"))
	if err1 != nil || err2 != nil || end.Before(start) {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid date range")
		return
	}
	days := int(end.Sub(start).Hours()/24) + 1
	f.writeSparseRange(w, u, end.Format(nutrition.DateLayout), days)
}

// writeSparseRange answers like the real backend: only days with meals,
// newest first.
func (f *FakeAPI) writeSparseRange(w http.ResponseWriter, u *fakeUser, end string, days int) {
	all, err := nutrition.SummarizeRange(f.decodeMeals(u), end, days)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	rows := make([]models.DailySummary, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].MealCount > 0 {
			rows = append(rows, all[i])
		}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (f *FakeAPI) getTargets(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	f.mu.Lock()
	targets := u.targets
	f.mu.Unlock()
	if targets == nil {
		writeDetail(w, http.StatusNotFound, "Macro targets not found")
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (f *FakeAPI) putTargets(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	var t models.MacroTargets
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid JSON body")
		return
	}
	if problems := nutrition.ValidateTargets(t); len(problems) > 0 {
		writeDetail(w, http.StatusUnprocessableEntity, problems[0].Error())
		return
	}

	f.mu.Lock()
	u.targets = &t
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, t)
}

func (f *FakeAPI) logMeal(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	var req models.MealCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid JSON body")
		return
	}
	if _, err := time.Parse(nutrition.DateLayout, req.Date); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid meal_date")
		return
	}

	meal := models.MealEntry{
		ID:          uuid.New().String(),
		UserID:      u.profile.UserID,
		Type:        req.Type,
		Description: req.Description,
		Date:        req.Date,
		Time:        req.Time,
		Items:       make([]models.MealItem, 0, len(req.Items)),
	}
	for _, in := range req.Items {
		meal.Items = append(meal.Items, newItem(in))
	}

	raw, _ := json.Marshal(meal)
	f.mu.Lock()
	u.meals = append(u.meals, storedMeal{date: meal.Date, raw: raw})
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, meal)
}

func (f *FakeAPI) getMeal(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	f.mu.Lock()
	i := findMeal(u, chi.URLParam(r, "meal_id"))
	var raw json.RawMessage
	if i >= 0 {
		raw = u.meals[i].raw
	}
	f.mu.Unlock()

	if raw == nil {
		writeDetail(w, http.StatusNotFound, "Meal not found")
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (f *FakeAPI) deleteMeal(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	f.mu.Lock()
	i := findMeal(u, chi.URLParam(r, "meal_id"))
	if i >= 0 {
		u.meals = append(u.meals[:i], u.meals[i+1:]...)
	}
	f.mu.Unlock()

	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Meal not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeAPI) addItem(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	var in models.MealItemCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid JSON body")
		return
	}
	item := newItem(in)

	found := f.editMeal(u, chi.URLParam(r, "meal_id"), func(m *models.MealEntry) bool {
		m.Items = append(m.Items, item)
		return true
	})
	if !found {
		writeDetail(w, http.StatusNotFound, "Meal not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (f *FakeAPI) deleteItem(w http.ResponseWriter, r *http.Request, u *fakeUser, _ *fakeClaims) {
	itemID := chi.URLParam(r, "item_id")
	found := f.editMeal(u, chi.URLParam(r, "meal_id"), func(m *models.MealEntry) bool {
		for i, item := range m.Items {
			if item.ID == itemID {
				m.Items = append(m.Items[:i], m.Items[i+1:]...)
				return true
			}
		}
		return false
	})
	if !found {
		writeDetail(w, http.StatusNotFound, "Meal item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// editMeal decodes the stored meal, applies fn and stores the result when fn
// reports a change. It returns false when the meal or the change is missing.
func (f *FakeAPI) editMeal(u *fakeUser, mealID string, fn func(*models.MealEntry) bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := findMeal(u, mealID)
	if i < 0 {
		return false
	}
	var meal models.MealEntry
	if err := json.Unmarshal(u.meals[i].raw, &meal); err != nil || !fn(&meal) {
		return false
	}
	raw, _ := json.Marshal(meal)
	u.meals[i].raw = raw
	return true
}

// findMeal returns the index of mealID in u.meals, or -1. Callers hold f.mu.
func findMeal(u *fakeUser, mealID string) int {
	for i, m := range u.meals {
		var head struct {
			ID string `json:"meal_id"`
		}
		if json.Unmarshal(m.raw, &head) == nil && head.ID == mealID {
			return i
		}
	}
	return -1
}

func newItem(in models.MealItemCreate) models.MealItem {
	return models.MealItem{
		ID:             uuid.New().String(),
		FoodName:       in.FoodName,
		Quantity:       in.Quantity,
		Unit:           in.Unit,
		Calories:       in.Calories,
		Macronutrients: in.Macronutrients,
	}
}

func (f *FakeAPI) mealsOn(u *fakeUser, date string) []storedMeal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storedMeal
	for _, m := range u.meals {
		if m.date == date {
			out = append(out, m)
		}
	}
	return out
}

func (f *FakeAPI) decodeMeals(u *fakeUser) []models.MealEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.MealEntry, 0, len(u.meals))
	for _, m := range u.meals {
		var entry models.MealEntry
		if err := json.Unmarshal(m.raw, &entry); err == nil {
			out = append(out, entry)
		}
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeRawList(w http.ResponseWriter, meals []storedMeal) {
	raws := make([]json.RawMessage, 0, len(meals))
	for _, m := range meals {
		raws = append(raws, m.raw)
	}
	writeJSON(w, http.StatusOK, raws)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
