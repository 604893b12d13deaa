// Package nutrition turns meal records into daily and ranged rollups and
// validates macro targets. Every function here is pure: no I/O, no logging,
// no shared state. Calling a summarizer twice with the same input yields
// identical output, so rollups are recomputed on demand rather than cached.
//
// Aggregation degrades instead of failing. A malformed item contributes zero
// to every total but its meal still counts toward MealCount; use Inspect to
// find out what was ignored.
package nutrition

import (
	"fmt"
	"math"
	"time"

	"github.com/ieraasyl/PulseClient/internal/models"
)

// DateLayout is the calendar-day format used by meal dates and summaries.
const DateLayout = "2006-01-02"

// DefaultRangeDays is the length of a weekly rollup.
const DefaultRangeDays = 7

// MaxRangeDays bounds SummarizeRange and AlignRange.
const MaxRangeDays = 366

// DataError describes a malformed meal item found by Inspect. It is never
// returned by the summarizers.
type DataError struct {
	EntryID string `json:"entry_id"`
	ItemID  string `json:"item_id"`
	Field   string `json:"field"`
	Reason  string `json:"reason"`
}

func (e DataError) Error() string {
	return fmt.Sprintf("meal %s item %s: %s %s", e.EntryID, e.ItemID, e.Field, e.Reason)
}

type totals struct {
	calories, protein, carbs, fat, fiber float64
}

func (t *totals) add(o totals) {
	t.calories += o.calories
	t.protein += o.protein
	t.carbs += o.carbs
	t.fat += o.fat
	t.fiber += o.fiber
}

// SummarizeDay rolls up the entries whose Date equals date exactly.
// No entries for the day yields a zero summary with MealCount 0.
//
// Example:
//
//	s := nutrition.SummarizeDay(meals, "2024-01-15")
//	fmt.Println(s.TotalCalories, s.MealCount)
func SummarizeDay(entries []models.MealEntry, date string) models.DailySummary {
	summary := models.DailySummary{Date: date}
	var t totals
	for _, entry := range entries {
		if entry.Date != date {
			continue
		}
		summary.MealCount++
		t.add(entryTotals(entry))
	}
	return fill(summary, t)
}

// SummarizeRange returns one summary per calendar day in
// [end-(days-1), end], oldest first. Day arithmetic goes through time.Time
// so month and year boundaries are handled.
//
// Returns an error if end is not a YYYY-MM-DD date or days is outside
// 1..MaxRangeDays.
func SummarizeRange(entries []models.MealEntry, end string, days int) ([]models.DailySummary, error) {
	dates, err := rangeDates(end, days)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]totals, len(dates))
	counts := make(map[string]int, len(dates))
	for _, entry := range entries {
		t := byDate[entry.Date]
		t.add(entryTotals(entry))
		byDate[entry.Date] = t
		counts[entry.Date]++
	}

	out := make([]models.DailySummary, 0, len(dates))
	for _, d := range dates {
		out = append(out, fill(models.DailySummary{Date: d, MealCount: counts[d]}, byDate[d]))
	}
	return out, nil
}

// SummarizeWeek is SummarizeRange over DefaultRangeDays.
func SummarizeWeek(entries []models.MealEntry, end string) ([]models.DailySummary, error) {
	return SummarizeRange(entries, end, DefaultRangeDays)
}

// AlignRange maps server-provided summaries onto the same day grid that
// SummarizeRange produces. The server omits days without meals and may
// return rows in any order; missing days are zero-filled, rows outside the
// range are dropped and the first row wins on duplicate dates. Every row is
// passed through Normalize.
func AlignRange(summaries []models.DailySummary, end string, days int) ([]models.DailySummary, error) {
	dates, err := rangeDates(end, days)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]models.DailySummary, len(summaries))
	for _, s := range summaries {
		if _, seen := byDate[s.Date]; !seen {
			byDate[s.Date] = s
		}
	}

	out := make([]models.DailySummary, 0, len(dates))
	for _, d := range dates {
		s, ok := byDate[d]
		if !ok {
			s = models.DailySummary{Date: d}
		}
		out = append(out, Normalize(s))
	}
	return out, nil
}

// Normalize applies the local aggregation invariants to a summary that came
// from elsewhere: non-finite or negative totals become 0, as does a negative
// meal count.
func Normalize(s models.DailySummary) models.DailySummary {
	s.TotalCalories = clean(s.TotalCalories)
	s.TotalProtein = clean(s.TotalProtein)
	s.TotalCarbs = clean(s.TotalCarbs)
	s.TotalFat = clean(s.TotalFat)
	s.TotalFiber = clean(s.TotalFiber)
	if s.MealCount < 0 {
		s.MealCount = 0
	}
	return s
}

// MealCalories is the calorie total of a single meal.
func MealCalories(entry models.MealEntry) float64 {
	return entryTotals(entry).calories
}

// MealsOverview summarizes a meals listing for its header.
func MealsOverview(entries []models.MealEntry) models.MealsOverview {
	var o models.MealsOverview
	for _, entry := range entries {
		o.MealCount++
		o.ItemCount += len(entry.Items)
		o.TotalCalories += MealCalories(entry)
	}
	return o
}

// Inspect lists every item the summarizers ignore in part or in full.
func Inspect(entries []models.MealEntry) []DataError {
	var problems []DataError
	for _, entry := range entries {
		for _, item := range entry.Items {
			report := func(field, reason string) {
				problems = append(problems, DataError{
					EntryID: entry.ID,
					ItemID:  item.ID,
					Field:   field,
					Reason:  reason,
				})
			}

			for _, f := range item.Malformed {
				report(f, "not a number")
			}
			if item.Quantity < 0 {
				report("quantity", "negative")
			}
			if item.Calories != nil && !usable(*item.Calories) {
				report("calories", "negative or not finite")
			}
			if m := item.Macronutrients; m != nil {
				for _, f := range m.Malformed {
					report(f, "not a number")
				}
				for _, f := range []struct {
					name string
					v    float64
				}{
					{"protein_grams", m.ProteinGrams},
					{"carbs_grams", m.CarbsGrams},
					{"fat_grams", m.FatGrams},
					{"fiber_grams", m.FiberGrams},
				} {
					if !usable(f.v) {
						report(f.name, "negative or not finite")
					}
				}
			}
		}
	}
	return problems
}

func entryTotals(entry models.MealEntry) totals {
	var t totals
	for _, item := range entry.Items {
		t.add(itemTotals(item))
	}
	return t
}

// itemTotals is the contribution of one item. An item with any unreadable,
// negative or non-finite value contributes nothing at all, quantity and
// nutrients alike.
func itemTotals(item models.MealItem) totals {
	if len(item.Malformed) > 0 || item.Quantity < 0 || !finite(item.Quantity) {
		return totals{}
	}

	var t totals
	if item.Calories != nil {
		if !usable(*item.Calories) {
			return totals{}
		}
		t.calories = *item.Calories
	}
	if m := item.Macronutrients; m != nil {
		if len(m.Malformed) > 0 || !usable(m.ProteinGrams) || !usable(m.CarbsGrams) ||
			!usable(m.FatGrams) || !usable(m.FiberGrams) {
			return totals{}
		}
		t.protein = m.ProteinGrams
		t.carbs = m.CarbsGrams
		t.fat = m.FatGrams
		t.fiber = m.FiberGrams
	}
	return t
}

func fill(s models.DailySummary, t totals) models.DailySummary {
	s.TotalCalories = t.calories
	s.TotalProtein = t.protein
	s.TotalCarbs = t.carbs
	s.TotalFat = t.fat
	s.TotalFiber = t.fiber
	return s
}

func rangeDates(end string, days int) ([]string, error) {
	if days < 1 || days > MaxRangeDays {
		return nil, fmt.Errorf("days must be between 1 and %d, got %d", MaxRangeDays, days)
	}
	endDay, err := time.Parse(DateLayout, end)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}

	dates := make([]string, 0, days)
	for i := days - 1; i >= 0; i-- {
		dates = append(dates, endDay.AddDate(0, 0, -i).Format(DateLayout))
	}
	return dates, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func usable(v float64) bool {
	return finite(v) && v >= 0
}

func clean(v float64) float64 {
	if !usable(v) {
		return 0
	}
	return v
}
