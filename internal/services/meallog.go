package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/nutrition"
	"github.com/rs/zerolog/log"
)

// MealWriteAPI is the subset of the API client used to change meals.
type MealWriteAPI interface {
	Meal(ctx context.Context, mealID string) (*models.MealEntry, error)
	LogMeal(ctx context.Context, meal models.MealCreate) (*models.MealEntry, error)
	DeleteMeal(ctx context.Context, mealID string) error
	AddMealItem(ctx context.Context, mealID string, item models.MealItemCreate) (*models.MealItem, error)
	DeleteMealItem(ctx context.Context, mealID, itemID string) error
}

// DayForgetter drops whatever is cached for one calendar day.
type DayForgetter interface {
	ForgetDay(ctx context.Context, date string) error
}

// MealLogService logs and removes meals. Input is checked locally before any
// request; every successful write drops the affected day from the cache.
type MealLogService struct {
	api  MealWriteAPI
	days DayForgetter
}

// NewMealLogService creates a service. days may be nil when nothing is
// cached.
func NewMealLogService(api MealWriteAPI, days DayForgetter) *MealLogService {
	return &MealLogService{api: api, days: days}
}

// Log creates a meal. A meal without items, of an unknown type or with a bad
// item returns a *ValidationError and is never sent.
func (s *MealLogService) Log(ctx context.Context, meal models.MealCreate) (*models.MealEntry, error) {
	meal.Type = models.MealType(strings.ToUpper(strings.TrimSpace(string(meal.Type))))
	if err := validateMeal(meal); err != nil {
		return nil, err
	}

	created, err := s.api.LogMeal(ctx, meal)
	if err != nil {
		return nil, classify("log meal", err)
	}
	s.forget(ctx, meal.Date)

	log.Info().
		Str("meal_id", created.ID).
		Str("meal_type", string(created.Type)).
		Str("date", created.Date).
		Int("items", len(created.Items)).
		Msg("Meal logged")

	return created, nil
}

// Delete removes a meal. The meal is read first to learn its date.
func (s *MealLogService) Delete(ctx context.Context, mealID string) error {
	meal, err := s.lookup(ctx, "delete meal", mealID)
	if err != nil {
		return err
	}
	if err := s.api.DeleteMeal(ctx, mealID); err != nil {
		return classify("delete meal", err)
	}
	s.forget(ctx, meal.Date)

	log.Info().Str("meal_id", mealID).Str("date", meal.Date).Msg("Meal deleted")
	return nil
}

// AddItem appends an item to an existing meal.
func (s *MealLogService) AddItem(ctx context.Context, mealID string, item models.MealItemCreate) (*models.MealItem, error) {
	v := &ValidationError{}
	validateItem(v, "item", item)
	if err := v.orNil(); err != nil {
		return nil, err
	}

	meal, err := s.lookup(ctx, "add meal item", mealID)
	if err != nil {
		return nil, err
	}
	created, err := s.api.AddMealItem(ctx, mealID, item)
	if err != nil {
		return nil, classify("add meal item", err)
	}
	s.forget(ctx, meal.Date)

	log.Info().Str("meal_id", mealID).Str("item_id", created.ID).Msg("Meal item added")
	return created, nil
}

// DeleteItem removes one item from a meal.
func (s *MealLogService) DeleteItem(ctx context.Context, mealID, itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		v := &ValidationError{}
		v.add("item_id", "is required")
		return v
	}

	meal, err := s.lookup(ctx, "delete meal item", mealID)
	if err != nil {
		return err
	}
	if err := s.api.DeleteMealItem(ctx, mealID, itemID); err != nil {
		return classify("delete meal item", err)
	}
	s.forget(ctx, meal.Date)

	log.Info().Str("meal_id", mealID).Str("item_id", itemID).Msg("Meal item deleted")
	return nil
}

func (s *MealLogService) lookup(ctx context.Context, op, mealID string) (*models.MealEntry, error) {
	if strings.TrimSpace(mealID) == "" {
		v := &ValidationError{}
		v.add("meal_id", "is required")
		return nil, v
	}
	meal, err := s.api.Meal(ctx, mealID)
	if err != nil {
		return nil, classify(op, err)
	}
	return meal, nil
}

// forget drops date from the cache. A failure only leaves a stale past day
// until the entry expires, so it is logged and not returned.
func (s *MealLogService) forget(ctx context.Context, date string) {
	if s.days == nil || date == "" {
		return
	}
	if err := s.days.ForgetDay(ctx, date); err != nil {
		log.Warn().Err(err).Str("date", date).Msg("Failed to drop cached day")
	}
}

func validateMeal(meal models.MealCreate) error {
	v := &ValidationError{}
	if !meal.Type.Valid() {
		v.add("meal_type", "must be one of BREAKFAST, LUNCH, DINNER, SNACK")
	}
	if _, err := time.Parse(nutrition.DateLayout, meal.Date); err != nil {
		v.add("meal_date", "must be a YYYY-MM-DD date")
	}
	if len(meal.Items) == 0 {
		v.add("meal_items", "at least one item is required")
	}
	for i, item := range meal.Items {
		validateItem(v, fmt.Sprintf("meal_items[%d]", i), item)
	}
	return v.orNil()
}

func validateItem(v *ValidationError, prefix string, item models.MealItemCreate) {
	if strings.TrimSpace(item.FoodName) == "" {
		v.add(prefix+".food_name", "is required")
	}
	if !(item.Quantity > 0) || math.IsInf(item.Quantity, 0) {
		v.add(prefix+".quantity", "must be a positive number")
	}
	if c := item.Calories; c != nil && !nonNegative(*c) {
		v.add(prefix+".calories", "must be a non-negative number")
	}
	if m := item.Macronutrients; m != nil {
		for _, f := range []struct {
			name string
			v    float64
		}{
			{"protein_grams", m.ProteinGrams},
			{"carbs_grams", m.CarbsGrams},
			{"fat_grams", m.FatGrams},
			{"fiber_grams", m.FiberGrams},
			{"sugar_grams", m.SugarGrams},
			{"sodium_mg", m.SodiumMg},
		} {
			if !nonNegative(f.v) {
				v.add(prefix+".macronutrients."+f.name, "must be a non-negative number")
			}
		}
	}
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
