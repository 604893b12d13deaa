package services

import (
	"context"

	"github.com/ieraasyl/PulseClient/internal/gateway"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/nutrition"
	"github.com/ieraasyl/PulseClient/pkg/utils"
	"github.com/rs/zerolog/log"
)

// DefaultCalorieGoal is used by Load when neither saved targets nor the
// profile carry a goal.
const DefaultCalorieGoal = 2000

// MacroAPI is the subset of the API client used for macro targets.
type MacroAPI interface {
	GetMacroTargets(ctx context.Context) (*models.MacroTargets, error)
	UpdateMacroTargets(ctx context.Context, targets models.MacroTargets) (*models.MacroTargets, error)
}

// SessionReader exposes the current session snapshot.
type SessionReader interface {
	Snapshot() models.Session
}

// MacroPreview is what a targets form shows while the user types. Grams are
// derived even when the split is invalid; Valid says whether Save would
// accept it.
type MacroPreview struct {
	Targets    models.MacroTargets `json:"targets"`
	Grams      models.MacroGrams   `json:"grams"`
	PercentSum float64             `json:"percent_sum"`
	Valid      bool                `json:"valid"`
	Errors     []utils.FieldError  `json:"errors,omitempty"`
}

// MacroService enforces validate-then-submit for macro targets.
type MacroService struct {
	api     MacroAPI
	session SessionReader
}

// NewMacroService creates a service. session may be nil; Load then falls
// back to DefaultCalorieGoal.
func NewMacroService(api MacroAPI, session SessionReader) *MacroService {
	return &MacroService{api: api, session: session}
}

// Preview validates targets and derives gram goals without calling the API.
func (s *MacroService) Preview(targets models.MacroTargets) MacroPreview {
	problems := nutrition.ValidateTargets(targets)
	return MacroPreview{
		Targets:    targets,
		Grams:      nutrition.DeriveGrams(targets),
		PercentSum: targets.ProteinPercent + targets.CarbsPercent + targets.FatPercent,
		Valid:      len(problems) == 0,
		Errors:     toFieldErrors(problems),
	}
}

// Save submits targets. Targets that fail validation return a
// *ValidationError and are never sent.
func (s *MacroService) Save(ctx context.Context, targets models.MacroTargets) (*models.MacroTargets, error) {
	if problems := nutrition.ValidateTargets(targets); len(problems) > 0 {
		return nil, &ValidationError{Fields: toFieldErrors(problems)}
	}

	saved, err := s.api.UpdateMacroTargets(ctx, targets)
	if err != nil {
		return nil, classify("save macro targets", err)
	}

	log.Info().
		Float64("daily_calorie_goal", saved.DailyCalorieGoal).
		Float64("protein_percent", saved.ProteinPercent).
		Float64("carbs_percent", saved.CarbsPercent).
		Float64("fat_percent", saved.FatPercent).
		Msg("Macro targets saved")

	return saved, nil
}

// Load returns the saved targets. A user who never saved any gets
// DefaultSplit with the profile's calorie goal.
func (s *MacroService) Load(ctx context.Context) (models.MacroTargets, error) {
	saved, err := s.api.GetMacroTargets(ctx)
	if err == nil {
		return *saved, nil
	}
	if !gateway.IsNotFound(err) {
		return models.MacroTargets{}, classify("load macro targets", err)
	}

	goal := float64(DefaultCalorieGoal)
	if s.session != nil {
		if u := s.session.Snapshot().User; u != nil && u.DailyCalorieGoal > 0 {
			goal = u.DailyCalorieGoal
		}
	}

	return models.MacroTargets{DailyCalorieGoal: goal, MacroSplit: nutrition.DefaultSplit}, nil
}

func toFieldErrors(problems []nutrition.TargetError) []utils.FieldError {
	if len(problems) == 0 {
		return nil
	}
	out := make([]utils.FieldError, 0, len(problems))
	for _, p := range problems {
		out = append(out, utils.FieldError{Field: p.Field, Message: p.Message})
	}
	return out
}
