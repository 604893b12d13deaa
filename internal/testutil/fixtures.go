// Package testutil provides fixtures, Redis helpers, HTTP helpers and a
// scripted fake of the meal-logging API for tests across the module.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/PulseClient/internal/models"
)

// Default credentials of the user seeded by NewFakeAPI.
const (
	TestUsername = "jdoe"
	TestPassword = "secret123"
	TestEmail    = "jdoe@example.com"
)

// TestProfile creates a test profile with default values
func TestProfile() *models.UserProfile {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return &models.UserProfile{
		UserID:           uuid.New().String(),
		Username:         TestUsername,
		Email:            TestEmail,
		DisplayName:      "Jane",
		DailyCalorieGoal: 2000,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// TestProfileNamed creates a test profile for username
func TestProfileNamed(username string) *models.UserProfile {
	p := TestProfile()
	p.Username = username
	p.Email = username + "@example.com"
	return p
}

// TestItem creates a meal item with calories and a macro breakdown
func TestItem(name string, calories, protein, carbs, fat float64) models.MealItem {
	return models.MealItem{
		ID:       uuid.New().String(),
		FoodName: name,
		Quantity: 1,
		Unit:     "serving",
		Calories: FloatPtr(calories),
		Macronutrients: &models.Macronutrients{
			ProteinGrams: protein,
			CarbsGrams:   carbs,
			FatGrams:     fat,
		},
	}
}

// TestMeal creates a meal entry on date with the given items
func TestMeal(date string, mealType models.MealType, items ...models.MealItem) models.MealEntry {
	return models.MealEntry{
		ID:    uuid.New().String(),
		Type:  mealType,
		Date:  date,
		Time:  "12:00:00",
		Items: items,
	}
}

// TestWeek returns meals on three days of the week ending 2024-01-15:
// 2024-01-15 (two meals, 900 kcal), 2024-01-13 (one meal, 500 kcal) and
// 2024-01-09 (one meal, 300 kcal).
func TestWeek() []models.MealEntry {
	return []models.MealEntry{
		TestMeal("2024-01-15", models.MealBreakfast, TestItem("oats", 400, 15, 60, 10)),
		TestMeal("2024-01-15", models.MealDinner, TestItem("salmon", 500, 40, 0, 30)),
		TestMeal("2024-01-13", models.MealLunch, TestItem("pasta", 500, 18, 80, 12)),
		TestMeal("2024-01-09", models.MealSnack, TestItem("apple", 300, 1, 70, 1)),
	}
}

// TestTargets returns a valid 2000 kcal 25/50/25 target set
func TestTargets() models.MacroTargets {
	return models.MacroTargets{
		DailyCalorieGoal: 2000,
		MacroSplit: models.MacroSplit{
			ProteinPercent: 25,
			CarbsPercent:   50,
			FatPercent:     25,
		},
	}
}

// FloatPtr returns a pointer to the given float
func FloatPtr(f float64) *float64 {
	return &f
}

// StringPtr returns a pointer to the given string
func StringPtr(s string) *string {
	return &s
}
