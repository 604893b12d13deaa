package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ieraasyl/PulseClient/internal/database"
	"github.com/ieraasyl/PulseClient/internal/gateway"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/testutil"
	"github.com/ieraasyl/PulseClient/pkg/config"
	"github.com/ieraasyl/PulseClient/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupNutrition(t *testing.T, source string) (*NutritionService, *testutil.FakeAPI) {
	t.Helper()

	api := testutil.NewFakeAPI(t)
	for _, m := range testutil.TestWeek() {
		api.AddMeal(testutil.TestUsername, m)
	}

	store := database.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), api.IssueToken(testutil.TestUsername)))

	client := gateway.New(config.APIConfig{BaseURL: api.URL(), Timeout: 5 * time.Second, RetryAttempts: 1}, store)
	return NewNutritionService(client, source), api
}

func TestNutritionServiceSources(t *testing.T) {
	for _, source := range []string{config.SourceLocal, config.SourceRemote} {
		t.Run(source, func(t *testing.T) {
			svc, _ := setupNutrition(t, source)
			ctx := context.Background()

			day, err := svc.Day(ctx, "2024-01-15")
			require.NoError(t, err)
			assert.Equal(t, models.DailySummary{
				Date:          "2024-01-15",
				TotalCalories: 900,
				TotalProtein:  55,
				TotalCarbs:    60,
				TotalFat:      40,
				MealCount:     2,
			}, day)

			week, err := svc.Week(ctx, "2024-01-15")
			require.NoError(t, err)
			require.Len(t, week, 7)
			assert.Equal(t, "2024-01-09", week[0].Date)
			assert.Equal(t, "2024-01-15", week[6].Date)
			assert.Equal(t, float64(300), week[0].TotalCalories)
			assert.Equal(t, 0, week[1].MealCount, "missing days are zero-filled")
			assert.Equal(t, float64(500), week[4].TotalCalories)
			assert.Equal(t, float64(900), week[6].TotalCalories)

			span, err := svc.Range(ctx, "2024-01-15", 3)
			require.NoError(t, err)
			require.Len(t, span, 3)
			assert.Equal(t, "2024-01-13", span[0].Date)
			assert.Equal(t, 1, span[0].MealCount)
		})
	}
}

func TestNutritionServiceLocalFetchesEachDay(t *testing.T) {
	svc, api := setupNutrition(t, config.SourceLocal)

	_, err := svc.Week(context.Background(), "2024-01-15")

	require.NoError(t, err)
	assert.Equal(t, 7, api.Calls("GET /meals/date/{date}"))
	assert.Equal(t, 0, api.Calls("GET /nutrition/weekly"))
}

func TestNutritionServiceRemoteNormalizes(t *testing.T) {
	svc, api := setupNutrition(t, config.SourceRemote)
	api.FailNext("GET /nutrition/daily/{date}", http.StatusOK,
		`{"date":"2024-01-15","total_calories":-40,"total_protein":12,"meal_count":-1}`)

	day, err := svc.Day(context.Background(), "2024-01-15")

	require.NoError(t, err)
	assert.Equal(t, float64(0), day.TotalCalories)
	assert.Equal(t, float64(12), day.TotalProtein)
	assert.Equal(t, 0, day.MealCount)
}

func TestNutritionServiceMalformedRecord(t *testing.T) {
	svc, api := setupNutrition(t, config.SourceLocal)
	api.AddRawMeal(testutil.TestUsername, "2024-01-14", `{
		"meal_id": "bad", "meal_type": "SNACK", "meal_date": "2024-01-14",
		"meal_items": [{"item_id": "x", "food_name": "?", "quantity": -1, "unit": "g", "calories": 999}]
	}`)

	week, err := svc.Week(context.Background(), "2024-01-15")

	require.NoError(t, err)
	assert.Equal(t, 1, week[5].MealCount, "bad meal still counted")
	assert.Equal(t, float64(0), week[5].TotalCalories)
}

func TestNutritionServiceValidation(t *testing.T) {
	svc, api := setupNutrition(t, config.SourceLocal)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"bad date", func() error { _, err := svc.Day(ctx, "15/01/2024"); return err }},
		{"zero days", func() error { _, err := svc.Range(ctx, "2024-01-15", 0); return err }},
		{"too many days", func() error { _, err := svc.Range(ctx, "2024-01-15", 367); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v *ValidationError
			assert.ErrorAs(t, tt.call(), &v)
		})
	}
	assert.Equal(t, 0, api.TotalCalls())
}

func TestNutritionServiceErrors(t *testing.T) {
	svc, api := setupNutrition(t, config.SourceLocal)
	api.ExpireTokens()

	_, err := svc.Week(context.Background(), "2024-01-15")

	assert.True(t, IsAuthentication(err))
}

func TestNutritionServiceMeals(t *testing.T) {
	svc, _ := setupNutrition(t, config.SourceLocal)

	page, err := svc.Meals(context.Background(), utils.NewPageParams(1, 3))

	require.NoError(t, err)
	require.Len(t, page.Meals, 3)
	assert.Equal(t, "2024-01-15", page.Meals[0].Date)
	assert.Equal(t, 3, page.Overview.MealCount)
	assert.Equal(t, float64(1400), page.Overview.TotalCalories)
	assert.True(t, page.Pagination.HasNext)
	assert.Equal(t, page.Overview.TotalCalories,
		page.Meals[0].Calories+page.Meals[1].Calories+page.Meals[2].Calories)
}

func TestNutritionServiceProgress(t *testing.T) {
	svc, _ := setupNutrition(t, config.SourceLocal)

	p, err := svc.Progress(context.Background(), "2024-01-15", testutil.TestTargets())

	require.NoError(t, err)
	assert.Equal(t, float64(2000), p.Calories.Goal)
	assert.InDelta(t, 0.45, p.Calories.Ratio, 1e-9)
	assert.Equal(t, float64(125), p.Protein.Goal)
	assert.InDelta(t, 0.44, p.Protein.Ratio, 1e-9)
}
