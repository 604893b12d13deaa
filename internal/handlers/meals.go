package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/pkg/utils"
)

// MealLogService defines the meal write operations used by the dashboard.
// Implemented by *services.MealLogService.
type MealLogService interface {
	Log(ctx context.Context, meal models.MealCreate) (*models.MealEntry, error)
	Delete(ctx context.Context, mealID string) error
	AddItem(ctx context.Context, mealID string, item models.MealItemCreate) (*models.MealItem, error)
	DeleteItem(ctx context.Context, mealID, itemID string) error
}

// MealHandler logs and removes meals.
type MealHandler struct {
	meals MealLogService
}

// NewMealHandler creates a meal handler.
func NewMealHandler(meals MealLogService) *MealHandler {
	return &MealHandler{meals: meals}
}

// Log creates a meal and answers 201 with the stored entry.
func (h *MealHandler) Log(w http.ResponseWriter, r *http.Request) {
	var meal models.MealCreate
	if !decodeBody(w, r, &meal) {
		return
	}

	created, err := h.meals.Log(r.Context(), meal)
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusCreated, created)
}

// Delete removes meal {id}.
func (h *MealHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.meals.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithMessage(w, r, http.StatusOK, "meal deleted")
}

// AddItem appends an item to meal {id}.
func (h *MealHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var item models.MealItemCreate
	if !decodeBody(w, r, &item) {
		return
	}

	created, err := h.meals.AddItem(r.Context(), chi.URLParam(r, "id"), item)
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusCreated, created)
}

// DeleteItem removes item {item_id} from meal {id}.
func (h *MealHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.meals.DeleteItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "item_id")); err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithMessage(w, r, http.StatusOK, "meal item deleted")
}
