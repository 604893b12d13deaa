package cache

import "fmt"

// MealsPrefix namespaces cached meal lists.
const MealsPrefix = "pulse:meals:"

// MealsDayKey is the key of one user's meals on one date.
//
// Example: "pulse:meals:550e8400-e29b-41d4-a716-446655440000:2024-01-15"
func MealsDayKey(userID, date string) string {
	return fmt.Sprintf("%s%s:%s", MealsPrefix, userID, date)
}

// UserMealsPattern matches every cached day of one user.
//
// Example: "pulse:meals:550e8400-e29b-41d4-a716-446655440000:*"
func UserMealsPattern(userID string) string {
	return fmt.Sprintf("%s%s:*", MealsPrefix, userID)
}
