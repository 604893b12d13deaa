package models

// DailySummary is the rollup of one calendar day. It is derived and never
// persisted by the client; the same shape is returned by
// GET /nutrition/daily/{date} when summaries are computed server-side.
type DailySummary struct {
	Date          string  `json:"date"`
	TotalCalories float64 `json:"total_calories"`
	TotalProtein  float64 `json:"total_protein"`
	TotalCarbs    float64 `json:"total_carbs"`
	TotalFat      float64 `json:"total_fat"`
	TotalFiber    float64 `json:"total_fiber"`
	MealCount     int     `json:"meal_count"`
}

// MacroSplit is the percentage allocation of daily calories across the three
// energy macronutrients.
type MacroSplit struct {
	ProteinPercent float64 `json:"protein_percent"`
	CarbsPercent   float64 `json:"carbs_percent"`
	FatPercent     float64 `json:"fat_percent"`
}

// MacroTargets is the payload of GET/PUT /macro-targets.
//
// JSON example:
//
//	{
//	  "daily_calorie_goal": 2000,
//	  "protein_percent": 25,
//	  "carbs_percent": 50,
//	  "fat_percent": 25
//	}
type MacroTargets struct {
	DailyCalorieGoal float64 `json:"daily_calorie_goal"`
	MacroSplit
}

// MacroGrams holds whole-gram targets derived from MacroTargets. Display only.
type MacroGrams struct {
	ProteinG int `json:"protein_g"`
	CarbsG   int `json:"carbs_g"`
	FatG     int `json:"fat_g"`
}

// NutrientProgress compares one consumed total with its goal.
type NutrientProgress struct {
	Consumed float64 `json:"consumed"`
	Goal     float64 `json:"goal"`
	Ratio    float64 `json:"ratio"` // 0..1
}

// GoalProgress is a day's intake measured against the user's targets.
type GoalProgress struct {
	Date     string           `json:"date"`
	Calories NutrientProgress `json:"calories"`
	Protein  NutrientProgress `json:"protein"`
	Carbs    NutrientProgress `json:"carbs"`
	Fat      NutrientProgress `json:"fat"`
}

// MealsOverview is the header of a meals listing.
type MealsOverview struct {
	MealCount     int     `json:"meal_count"`
	ItemCount     int     `json:"item_count"`
	TotalCalories float64 `json:"total_calories"`
}
