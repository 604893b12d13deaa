package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/spf13/cobra"
)

func newMealsLogCmd(a *app) *cobra.Command {
	var meal models.MealCreate
	var mealType string
	var items []string

	cmd := &cobra.Command{
		Use:   "log [date]",
		Short: "Log a meal (default today)",
		Long: `Log a meal with one or more items. Each --item is a comma separated
list of key=value pairs. name and quantity are required; unit, calories,
protein, carbs, fat and fiber are optional.

Example: pulse meals log --type lunch --item "name=rice,quantity=1,unit=cup,calories=200,carbs=45"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}

			meal.Type = models.MealType(mealType)
			meal.Date = dateArg(args)
			meal.Items = meal.Items[:0]
			for _, raw := range items {
				item, err := parseItem(raw)
				if err != nil {
					return err
				}
				meal.Items = append(meal.Items, item)
			}

			created, err := a.meals.Log(ctx, meal)
			if err != nil {
				return err
			}
			return printJSON(created)
		},
	}

	cmd.Flags().StringVar(&mealType, "type", "", "Meal type: breakfast, lunch, dinner or snack")
	cmd.Flags().StringVar(&meal.Description, "description", "", "Free-text description")
	cmd.Flags().StringVar(&meal.Time, "time", "", "Time of the meal, HH:MM:SS")
	cmd.Flags().StringArrayVar(&items, "item", nil, "Item as key=value pairs (repeatable)")

	return cmd
}

func newMealsDeleteCmd(a *app) *cobra.Command {
	var itemID string

	cmd := &cobra.Command{
		Use:   "delete <meal-id>",
		Short: "Delete a meal, or one of its items with --item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}

			if itemID != "" {
				if err := a.meals.DeleteItem(ctx, args[0], itemID); err != nil {
					return err
				}
				return printJSON(map[string]string{"deleted_item": itemID})
			}
			if err := a.meals.Delete(ctx, args[0]); err != nil {
				return err
			}
			return printJSON(map[string]string{"deleted_meal": args[0]})
		},
	}

	cmd.Flags().StringVar(&itemID, "item", "", "Delete only this item of the meal")

	return cmd
}

func newMealsAddItemCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "add-item <meal-id> <item>",
		Short:   "Add an item to a logged meal",
		Example: `pulse meals add-item 3f2a... "name=egg,quantity=2,unit=piece,calories=150"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}

			item, err := parseItem(args[1])
			if err != nil {
				return err
			}
			created, err := a.meals.AddItem(ctx, args[0], item)
			if err != nil {
				return err
			}
			return printJSON(created)
		},
	}
}

// parseItem reads "name=rice,quantity=1,unit=cup,calories=200". Range checks
// are left to the meal service.
func parseItem(raw string) (models.MealItemCreate, error) {
	var item models.MealItemCreate
	var macros models.Macronutrients
	hasMacros := false

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return item, fmt.Errorf("item %q: expected key=value, got %q", raw, pair)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "name":
			item.FoodName = value
			continue
		case "unit":
			item.Unit = value
			continue
		}

		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return item, fmt.Errorf("item %q: %s must be a number", raw, key)
		}
		switch key {
		case "quantity":
			item.Quantity = n
		case "calories":
			item.Calories = &n
		case "protein":
			macros.ProteinGrams, hasMacros = n, true
		case "carbs":
			macros.CarbsGrams, hasMacros = n, true
		case "fat":
			macros.FatGrams, hasMacros = n, true
		case "fiber":
			macros.FiberGrams, hasMacros = n, true
		default:
			return item, fmt.Errorf("item %q: unknown key %q", raw, key)
		}
	}

	if hasMacros {
		item.Macronutrients = &macros
	}
	return item, nil
}
