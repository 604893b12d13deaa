package services

import (
	"context"
	"errors"
	"time"

	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/nutrition"
	"github.com/ieraasyl/PulseClient/pkg/cache"
	"github.com/rs/zerolog/log"
)

// CachedMeals is a MealsAPI that keeps the meal lists of past days in a
// cache, keyed by the logged-in user. Today and future dates always go to
// the API since they may still change. Cache failures fall through to the
// API.
type CachedMeals struct {
	MealsAPI
	cache   *cache.Cache
	session SessionReader
	ttl     time.Duration
	now     func() time.Time
}

// NewCachedMeals wraps api. A zero ttl disables caching.
func NewCachedMeals(api MealsAPI, c *cache.Cache, session SessionReader, ttl time.Duration) *CachedMeals {
	return &CachedMeals{MealsAPI: api, cache: c, session: session, ttl: ttl, now: time.Now}
}

// MealsByDate answers past dates from the cache when possible.
func (m *CachedMeals) MealsByDate(ctx context.Context, date string) ([]models.MealEntry, error) {
	userID, ok := m.cacheable(date)
	if !ok {
		return m.MealsAPI.MealsByDate(ctx, date)
	}

	key := cache.MealsDayKey(userID, date)
	var meals []models.MealEntry
	err := m.cache.Get(ctx, key, &meals)
	if err == nil {
		return meals, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn().Err(err).Str("date", date).Msg("Meal cache unavailable")
	}

	meals, err = m.MealsAPI.MealsByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if hasMalformed(meals) {
		// Keep bad records visible to Inspect on every fetch.
		return meals, nil
	}

	if err := m.cache.Set(ctx, key, meals, m.ttl); err != nil {
		log.Warn().Err(err).Str("date", date).Msg("Failed to cache meals")
	}
	return meals, nil
}

// Forget drops every cached day of userID.
func (m *CachedMeals) Forget(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return m.cache.DeletePattern(ctx, cache.UserMealsPattern(userID))
}

// ForgetDay drops the logged-in user's cached meals of date. Writes call it
// so a changed past day is fetched again.
func (m *CachedMeals) ForgetDay(ctx context.Context, date string) error {
	snap := m.session.Snapshot()
	if snap.User == nil || snap.User.UserID == "" {
		return nil
	}
	return m.cache.Delete(ctx, cache.MealsDayKey(snap.User.UserID, date))
}

func (m *CachedMeals) cacheable(date string) (string, bool) {
	if m.ttl <= 0 {
		return "", false
	}
	snap := m.session.Snapshot()
	if !snap.Authenticated() || snap.User == nil || snap.User.UserID == "" {
		return "", false
	}
	today := m.now().Format(nutrition.DateLayout)
	// YYYY-MM-DD compares in calendar order.
	if date >= today {
		return "", false
	}
	return snap.User.UserID, true
}

func hasMalformed(meals []models.MealEntry) bool {
	for _, meal := range meals {
		for _, item := range meal.Items {
			if len(item.Malformed) > 0 {
				return true
			}
			if item.Macronutrients != nil && len(item.Macronutrients.Malformed) > 0 {
				return true
			}
		}
	}
	return false
}
