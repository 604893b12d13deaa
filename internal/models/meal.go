package models

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// MealType classifies a meal entry.
type MealType string

const (
	MealBreakfast MealType = "BREAKFAST"
	MealLunch     MealType = "LUNCH"
	MealDinner    MealType = "DINNER"
	MealSnack     MealType = "SNACK"
)

// MealEntry is an immutable snapshot of a logged meal as returned by the API.
// Date is a calendar day in YYYY-MM-DD form; no time zone normalization is
// applied by the client.
type MealEntry struct {
	ID          string     `json:"meal_id"`
	UserID      string     `json:"user_id,omitempty"`
	Type        MealType   `json:"meal_type"`
	Description string     `json:"meal_description,omitempty"`
	Date        string     `json:"meal_date"`
	Time        string     `json:"meal_time,omitempty"`
	Items       []MealItem `json:"meal_items"`
}

// Valid reports whether t is one of the known meal types.
func (t MealType) Valid() bool {
	switch t {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return true
	}
	return false
}

// MealCreate is the body of POST /meals/log.
type MealCreate struct {
	Type        MealType         `json:"meal_type"`
	Description string           `json:"meal_description,omitempty"`
	Date        string           `json:"meal_date"`
	Time        string           `json:"meal_time,omitempty"`
	Items       []MealItemCreate `json:"meal_items"`
}

// MealItemCreate is one food in a MealCreate, or the body of
// POST /meals/{meal_id}/items.
type MealItemCreate struct {
	FoodName       string          `json:"food_name"`
	Quantity       float64         `json:"quantity"`
	Unit           string          `json:"unit"`
	Calories       *float64        `json:"calories,omitempty"`
	Macronutrients *Macronutrients `json:"macronutrients,omitempty"`
}

// MealItem is one food inside a meal. Calories and Macronutrients are
// optional on the wire.
//
// Decoding is lenient: a numeric field carrying a non-numeric value does not
// fail the surrounding payload. The offending field name is recorded in
// Malformed and the value is left unset, so a single bad record cannot break
// a whole meals listing.
type MealItem struct {
	ID             string          `json:"item_id"`
	FoodName       string          `json:"food_name"`
	Quantity       float64         `json:"quantity"`
	Unit           string          `json:"unit"`
	Calories       *float64        `json:"calories,omitempty"`
	Macronutrients *Macronutrients `json:"macronutrients,omitempty"`
	Malformed      []string        `json:"-"`
}

// Macronutrients holds the breakdown of a meal item. Grams except sodium,
// which is in milligrams.
type Macronutrients struct {
	ProteinGrams float64  `json:"protein_grams"`
	CarbsGrams   float64  `json:"carbs_grams"`
	FatGrams     float64  `json:"fat_grams"`
	FiberGrams   float64  `json:"fiber_grams"`
	SugarGrams   float64  `json:"sugar_grams"`
	SodiumMg     float64  `json:"sodium_mg"`
	Malformed    []string `json:"-"`
}

// UnmarshalJSON decodes a meal item, recording malformed numeric fields
// instead of returning an error.
func (i *MealItem) UnmarshalJSON(data []byte) error {
	*i = MealItem{}
	r := gjson.ParseBytes(data)
	if !r.IsObject() {
		i.Malformed = append(i.Malformed, "item")
		return nil
	}

	i.ID = r.Get("item_id").String()
	i.FoodName = r.Get("food_name").String()
	i.Unit = r.Get("unit").String()

	if v, present, ok := lenientFloat(r.Get("quantity")); !ok {
		i.Malformed = append(i.Malformed, "quantity")
	} else if present {
		i.Quantity = v
	}

	if v, present, ok := lenientFloat(r.Get("calories")); !ok {
		i.Malformed = append(i.Malformed, "calories")
	} else if present {
		i.Calories = &v
	}

	macros := r.Get("macronutrients")
	switch {
	case !macros.Exists() || macros.Type == gjson.Null:
	case macros.IsObject():
		m := &Macronutrients{}
		m.decode(macros)
		i.Macronutrients = m
	default:
		i.Malformed = append(i.Malformed, "macronutrients")
	}

	return nil
}

// UnmarshalJSON decodes a macronutrient breakdown with the same leniency as
// MealItem.
func (m *Macronutrients) UnmarshalJSON(data []byte) error {
	*m = Macronutrients{}
	r := gjson.ParseBytes(data)
	if !r.IsObject() {
		m.Malformed = append(m.Malformed, "macronutrients")
		return nil
	}
	m.decode(r)
	return nil
}

func (m *Macronutrients) decode(r gjson.Result) {
	fields := []struct {
		name string
		dst  *float64
	}{
		{"protein_grams", &m.ProteinGrams},
		{"carbs_grams", &m.CarbsGrams},
		{"fat_grams", &m.FatGrams},
		{"fiber_grams", &m.FiberGrams},
		{"sugar_grams", &m.SugarGrams},
		{"sodium_mg", &m.SodiumMg},
	}
	for _, f := range fields {
		v, present, ok := lenientFloat(r.Get(f.name))
		if !ok {
			m.Malformed = append(m.Malformed, f.name)
			continue
		}
		if present {
			*f.dst = v
		}
	}
}

// lenientFloat reads a JSON value that should be a number. Numeric strings
// are accepted. present is false for missing or null values; ok is false when
// the value exists but cannot be read as a finite number.
func lenientFloat(r gjson.Result) (v float64, present bool, ok bool) {
	switch r.Type {
	case gjson.Null:
		return 0, false, true
	case gjson.Number:
		return r.Float(), true, true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, true, false
		}
		return f, true, true
	default:
		return 0, true, false
	}
}
