package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/nutrition"
	"github.com/ieraasyl/PulseClient/internal/services"
	"github.com/ieraasyl/PulseClient/pkg/utils"
)

// NutritionService defines the rollup operations used by the dashboard.
// Implemented by *services.NutritionService.
type NutritionService interface {
	Day(ctx context.Context, date string) (models.DailySummary, error)
	Range(ctx context.Context, end string, days int) ([]models.DailySummary, error)
	Progress(ctx context.Context, date string, targets models.MacroTargets) (models.GoalProgress, error)
	Meals(ctx context.Context, page utils.PageParams) (services.MealsPage, error)
}

// MacroService defines the macro target operations used by the dashboard.
// Implemented by *services.MacroService.
type MacroService interface {
	Preview(targets models.MacroTargets) services.MacroPreview
	Save(ctx context.Context, targets models.MacroTargets) (*models.MacroTargets, error)
	Load(ctx context.Context) (models.MacroTargets, error)
}

// NutritionHandler serves summaries, the meals list and macro targets.
type NutritionHandler struct {
	nutrition NutritionService
	macros    MacroService
	now       func() time.Time
}

// NewNutritionHandler creates a nutrition handler.
func NewNutritionHandler(nutrition NutritionService, macros MacroService) *NutritionHandler {
	return &NutritionHandler{nutrition: nutrition, macros: macros, now: time.Now}
}

// RangeResponse wraps a ranged rollup.
type RangeResponse struct {
	EndDate string                `json:"end_date"`
	Days    int                   `json:"days"`
	Summary []models.DailySummary `json:"summary"`
}

// Daily returns the summary of {date}.
func (h *NutritionHandler) Daily(w http.ResponseWriter, r *http.Request) {
	summary, err := h.nutrition.Day(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, summary)
}

// Weekly returns one summary per day ending at ?end_date= (default today),
// oldest first. ?days= defaults to 7.
func (h *NutritionHandler) Weekly(w http.ResponseWriter, r *http.Request) {
	end := r.URL.Query().Get("end_date")
	if end == "" {
		end = h.now().Format(nutrition.DateLayout)
	}

	days := nutrition.DefaultRangeDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			utils.RespondWithFieldErrors(w, r, http.StatusBadRequest, "validation failed",
				[]utils.FieldError{{Field: "days", Message: "must be an integer"}})
			return
		}
		days = n
	}

	summary, err := h.nutrition.Range(r.Context(), end, days)
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, RangeResponse{EndDate: end, Days: days, Summary: summary})
}

// Progress measures {date} against the saved (or default) macro targets.
func (h *NutritionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	targets, err := h.macros.Load(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	progress, err := h.nutrition.Progress(r.Context(), chi.URLParam(r, "date"), targets)
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, progress)
}

// Meals returns a page of meals, newest first, with per-meal calories.
// Query parameters: page (default 1), page_size (default 20, max 100).
func (h *NutritionHandler) Meals(w http.ResponseWriter, r *http.Request) {
	page, err := h.nutrition.Meals(r.Context(), utils.ParsePageParams(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, page)
}

// PreviewMacros validates a target set and derives gram goals. Nothing is
// saved; invalid input is answered with 200 and "valid": false.
func (h *NutritionHandler) PreviewMacros(w http.ResponseWriter, r *http.Request) {
	var targets models.MacroTargets
	if !decodeBody(w, r, &targets) {
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, h.macros.Preview(targets))
}

// SaveMacros validates and submits a target set.
func (h *NutritionHandler) SaveMacros(w http.ResponseWriter, r *http.Request) {
	var targets models.MacroTargets
	if !decodeBody(w, r, &targets) {
		return
	}

	saved, err := h.macros.Save(r.Context(), targets)
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, h.macros.Preview(*saved))
}

// GetMacros returns the saved targets with their gram goals.
func (h *NutritionHandler) GetMacros(w http.ResponseWriter, r *http.Request) {
	targets, err := h.macros.Load(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, h.macros.Preview(targets))
}
