package nutrition

import (
	"fmt"
	"math"

	"github.com/ieraasyl/PulseClient/internal/models"
)

// Energy density of the macronutrients, kcal per gram.
const (
	ProteinKcalPerGram = 4
	CarbsKcalPerGram   = 4
	FatKcalPerGram     = 9
)

// Tolerance is the allowed distance of a split's sum from 100 percent.
const Tolerance = 0.01

// sumSlack absorbs float error in the sum, so a split that is off by exactly
// Tolerance in decimal is still accepted.
const sumSlack = 1e-9

// MaxCalorieGoal is the largest daily calorie goal accepted for submission.
const MaxCalorieGoal = 100000

// DefaultSplit is the split offered before the user has saved targets.
var DefaultSplit = models.MacroSplit{
	ProteinPercent: 25,
	CarbsPercent:   50,
	FatPercent:     25,
}

// TargetError is one reason a target set must not be submitted.
type TargetError struct {
	Field   string
	Message string
}

func (e TargetError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate reports whether the split sums to 100 within Tolerance.
// Individual percentages are not range-checked; only the sum matters.
func Validate(split models.MacroSplit) bool {
	sum := split.ProteinPercent + split.CarbsPercent + split.FatPercent
	return math.Abs(sum-100) <= Tolerance+sumSlack
}

// ValidateTargets returns every problem that blocks submission of t, or nil
// when t may be sent to PUT /macro-targets.
func ValidateTargets(t models.MacroTargets) []TargetError {
	var problems []TargetError
	if !(t.DailyCalorieGoal > 0) || math.IsInf(t.DailyCalorieGoal, 0) {
		problems = append(problems, TargetError{
			Field:   "daily_calorie_goal",
			Message: "must be a positive number",
		})
	} else if t.DailyCalorieGoal > MaxCalorieGoal {
		problems = append(problems, TargetError{
			Field:   "daily_calorie_goal",
			Message: fmt.Sprintf("must be at most %d", MaxCalorieGoal),
		})
	}
	if !Validate(t.MacroSplit) {
		sum := t.ProteinPercent + t.CarbsPercent + t.FatPercent
		problems = append(problems, TargetError{
			Field:   "macro_split",
			Message: fmt.Sprintf("percentages must sum to 100, got %.2f", sum),
		})
	}
	return problems
}

// DeriveGrams projects the calorie goal onto whole grams per macronutrient,
// rounding half up. It is computed for any input, valid or not; values that
// do not fit an int saturate at the int bounds.
//
// Example:
//
//	g := nutrition.DeriveGrams(models.MacroTargets{
//	    DailyCalorieGoal: 2000,
//	    MacroSplit:       nutrition.DefaultSplit,
//	})
//	// g == models.MacroGrams{ProteinG: 125, CarbsG: 250, FatG: 56}
func DeriveGrams(t models.MacroTargets) models.MacroGrams {
	return models.MacroGrams{
		ProteinG: grams(t.DailyCalorieGoal, t.ProteinPercent, ProteinKcalPerGram),
		CarbsG:   grams(t.DailyCalorieGoal, t.CarbsPercent, CarbsKcalPerGram),
		FatG:     grams(t.DailyCalorieGoal, t.FatPercent, FatKcalPerGram),
	}
}

// Progress measures a day's intake against the targets. Gram goals come from
// DeriveGrams. Each ratio is consumed/goal capped at 1, and 0 when the goal is
// not positive.
func Progress(s models.DailySummary, t models.MacroTargets) models.GoalProgress {
	g := DeriveGrams(t)
	return models.GoalProgress{
		Date:     s.Date,
		Calories: progress(s.TotalCalories, t.DailyCalorieGoal),
		Protein:  progress(s.TotalProtein, float64(g.ProteinG)),
		Carbs:    progress(s.TotalCarbs, float64(g.CarbsG)),
		Fat:      progress(s.TotalFat, float64(g.FatG)),
	}
}

func grams(calories, percent float64, kcalPerGram float64) int {
	v := math.Floor(calories*percent/100/kcalPerGram + 0.5)
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt:
		return math.MaxInt
	case v <= math.MinInt:
		return math.MinInt
	}
	return int(v)
}

func progress(consumed, goal float64) models.NutrientProgress {
	p := models.NutrientProgress{Consumed: consumed, Goal: goal}
	if goal > 0 && !math.IsInf(goal, 0) {
		p.Ratio = math.Min(consumed/goal, 1)
		if p.Ratio < 0 || math.IsNaN(p.Ratio) {
			p.Ratio = 0
		}
	}
	return p
}
