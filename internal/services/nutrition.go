package services

import (
	"context"
	"time"

	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/nutrition"
	"github.com/ieraasyl/PulseClient/pkg/config"
	"github.com/ieraasyl/PulseClient/pkg/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// fetchConcurrency bounds parallel per-day meal fetches.
const fetchConcurrency = 4

// MealsAPI is the subset of the API client used for rollups.
type MealsAPI interface {
	MealsByDate(ctx context.Context, date string) ([]models.MealEntry, error)
	ListMeals(ctx context.Context, page utils.PageParams) ([]models.MealEntry, error)
	DailyNutrition(ctx context.Context, date string) (*models.DailySummary, error)
	WeeklyNutrition(ctx context.Context, end string) ([]models.DailySummary, error)
	NutritionRange(ctx context.Context, start, end string) ([]models.DailySummary, error)
}

// MealsPage is one page of the meals list with its header figures.
type MealsPage struct {
	Meals      []MealCard           `json:"meals"`
	Overview   models.MealsOverview `json:"overview"`
	Pagination utils.PageMeta       `json:"pagination"`
}

// MealCard is a meal with its computed calories.
type MealCard struct {
	models.MealEntry
	Calories float64 `json:"calories"`
}

// NutritionService produces daily and ranged summaries. With the local
// source it fetches raw meals and aggregates them itself; with the remote
// source it uses the server's summaries and holds them to the same
// invariants (see nutrition.AlignRange). Either way the result has one row
// per calendar day, oldest first.
type NutritionService struct {
	api    MealsAPI
	source string
}

// NewNutritionService creates a service. source is config.SourceLocal or
// config.SourceRemote; anything else is treated as local.
func NewNutritionService(api MealsAPI, source string) *NutritionService {
	if source != config.SourceRemote {
		source = config.SourceLocal
	}
	return &NutritionService{api: api, source: source}
}

// Source returns the configured summary source.
func (s *NutritionService) Source() string {
	return s.source
}

// Day summarizes a single calendar day.
func (s *NutritionService) Day(ctx context.Context, date string) (models.DailySummary, error) {
	if err := validateRange(date, 1); err != nil {
		return models.DailySummary{}, err
	}

	if s.source == config.SourceRemote {
		summary, err := s.api.DailyNutrition(ctx, date)
		if err != nil {
			return models.DailySummary{}, classify("daily nutrition", err)
		}
		out := nutrition.Normalize(*summary)
		out.Date = date
		return out, nil
	}

	meals, err := s.api.MealsByDate(ctx, date)
	if err != nil {
		return models.DailySummary{}, classify("meals by date", err)
	}
	logDataErrors(meals)

	return nutrition.SummarizeDay(meals, date), nil
}

// Week summarizes the seven days ending at end.
func (s *NutritionService) Week(ctx context.Context, end string) ([]models.DailySummary, error) {
	return s.Range(ctx, end, nutrition.DefaultRangeDays)
}

// Range summarizes days calendar days ending at end, inclusive.
func (s *NutritionService) Range(ctx context.Context, end string, days int) ([]models.DailySummary, error) {
	if err := validateRange(end, days); err != nil {
		return nil, err
	}

	if s.source == config.SourceRemote {
		return s.remoteRange(ctx, end, days)
	}
	return s.localRange(ctx, end, days)
}

// Progress summarizes date and measures it against targets.
func (s *NutritionService) Progress(ctx context.Context, date string, targets models.MacroTargets) (models.GoalProgress, error) {
	summary, err := s.Day(ctx, date)
	if err != nil {
		return models.GoalProgress{}, err
	}
	return nutrition.Progress(summary, targets), nil
}

// Meals returns one page of the meals list, newest first.
func (s *NutritionService) Meals(ctx context.Context, page utils.PageParams) (MealsPage, error) {
	meals, err := s.api.ListMeals(ctx, page)
	if err != nil {
		return MealsPage{}, classify("list meals", err)
	}
	logDataErrors(meals)

	cards := make([]MealCard, 0, len(meals))
	for _, m := range meals {
		cards = append(cards, MealCard{MealEntry: m, Calories: nutrition.MealCalories(m)})
	}

	return MealsPage{
		Meals:      cards,
		Overview:   nutrition.MealsOverview(meals),
		Pagination: page.Meta(len(meals)),
	}, nil
}

func (s *NutritionService) localRange(ctx context.Context, end string, days int) ([]models.DailySummary, error) {
	// An empty rollup gives the day grid.
	grid, err := nutrition.SummarizeRange(nil, end, days)
	if err != nil {
		return nil, err
	}

	perDay := make([][]models.MealEntry, len(grid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, day := range grid {
		date := day.Date
		g.Go(func() error {
			meals, err := s.api.MealsByDate(gctx, date)
			if err != nil {
				return classify("meals by date", err)
			}
			perDay[i] = meals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []models.MealEntry
	for _, meals := range perDay {
		all = append(all, meals...)
	}
	logDataErrors(all)

	return nutrition.SummarizeRange(all, end, days)
}

func (s *NutritionService) remoteRange(ctx context.Context, end string, days int) ([]models.DailySummary, error) {
	var (
		rows []models.DailySummary
		err  error
	)
	if days == nutrition.DefaultRangeDays {
		rows, err = s.api.WeeklyNutrition(ctx, end)
	} else {
		endDay, _ := time.Parse(nutrition.DateLayout, end)
		start := endDay.AddDate(0, 0, -(days - 1)).Format(nutrition.DateLayout)
		rows, err = s.api.NutritionRange(ctx, start, end)
	}
	if err != nil {
		return nil, classify("nutrition range", err)
	}

	return nutrition.AlignRange(rows, end, days)
}

func validateRange(date string, days int) error {
	v := &ValidationError{}
	if _, err := time.Parse(nutrition.DateLayout, date); err != nil {
		v.add("date", "must be a YYYY-MM-DD date")
	}
	if days < 1 || days > nutrition.MaxRangeDays {
		v.add("days", "must be between 1 and %d", nutrition.MaxRangeDays)
	}
	return v.orNil()
}

func logDataErrors(meals []models.MealEntry) {
	for _, problem := range nutrition.Inspect(meals) {
		log.Warn().
			Str("meal_id", problem.EntryID).
			Str("item_id", problem.ItemID).
			Str("field", problem.Field).
			Str("reason", problem.Reason).
			Msg("Malformed meal item counted as zero")
	}
}
