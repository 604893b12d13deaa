package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/ieraasyl/PulseClient/internal/gateway"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/nutrition"
	"github.com/ieraasyl/PulseClient/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMacroAPI is a mock implementation of MacroAPI
type MockMacroAPI struct {
	mock.Mock
}

func (m *MockMacroAPI) GetMacroTargets(ctx context.Context) (*models.MacroTargets, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MacroTargets), args.Error(1)
}

func (m *MockMacroAPI) UpdateMacroTargets(ctx context.Context, targets models.MacroTargets) (*models.MacroTargets, error) {
	args := m.Called(ctx, targets)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MacroTargets), args.Error(1)
}

type fixedSession models.Session

func (s fixedSession) Snapshot() models.Session { return models.Session(s) }

func split(p, c, f float64) models.MacroTargets {
	return models.MacroTargets{
		DailyCalorieGoal: 2000,
		MacroSplit:       models.MacroSplit{ProteinPercent: p, CarbsPercent: c, FatPercent: f},
	}
}

func TestMacroPreview(t *testing.T) {
	svc := NewMacroService(new(MockMacroAPI), nil)

	t.Run("valid", func(t *testing.T) {
		p := svc.Preview(split(25, 50, 25))

		assert.True(t, p.Valid)
		assert.Empty(t, p.Errors)
		assert.Equal(t, models.MacroGrams{ProteinG: 125, CarbsG: 250, FatG: 56}, p.Grams)
		assert.Equal(t, float64(100), p.PercentSum)
	})

	t.Run("invalid split still derives grams", func(t *testing.T) {
		p := svc.Preview(split(25, 50, 24))

		assert.False(t, p.Valid)
		require.Len(t, p.Errors, 1)
		assert.Equal(t, "macro_split", p.Errors[0].Field)
		assert.Equal(t, 53, p.Grams.FatG)
		assert.Equal(t, 125, p.Grams.ProteinG)
	})
}

func TestMacroSave(t *testing.T) {
	ctx := context.Background()

	invalid := []struct {
		name    string
		targets models.MacroTargets
		fields  []string
	}{
		{"sum 99", split(25, 50, 24), []string{"macro_split"}},
		{"zero calories", models.MacroTargets{MacroSplit: nutrition.DefaultSplit}, []string{"daily_calorie_goal"}},
		{"both", models.MacroTargets{DailyCalorieGoal: -1, MacroSplit: models.MacroSplit{ProteinPercent: 10}},
			[]string{"daily_calorie_goal", "macro_split"}},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			api := new(MockMacroAPI)
			svc := NewMacroService(api, nil)

			_, err := svc.Save(ctx, tt.targets)

			var v *ValidationError
			require.ErrorAs(t, err, &v)
			var fields []string
			for _, f := range v.Fields {
				fields = append(fields, f.Field)
			}
			assert.Equal(t, tt.fields, fields)
			api.AssertNotCalled(t, "UpdateMacroTargets", mock.Anything, mock.Anything)
		})
	}

	t.Run("within tolerance is submitted", func(t *testing.T) {
		api := new(MockMacroAPI)
		svc := NewMacroService(api, nil)
		targets := split(25.005, 49.995, 25)
		api.On("UpdateMacroTargets", mock.Anything, targets).Return(&targets, nil).Once()

		saved, err := svc.Save(ctx, targets)

		require.NoError(t, err)
		assert.Equal(t, targets, *saved)
		api.AssertExpectations(t)
	})

	t.Run("server rejection", func(t *testing.T) {
		api := new(MockMacroAPI)
		svc := NewMacroService(api, nil)
		targets := split(25, 50, 25)
		api.On("UpdateMacroTargets", mock.Anything, targets).
			Return(nil, &gateway.APIError{StatusCode: http.StatusUnprocessableEntity, Detail: "bad split"}).Once()

		_, err := svc.Save(ctx, targets)

		var v *ValidationError
		require.ErrorAs(t, err, &v)
		assert.Equal(t, "bad split", v.Fields[0].Message)
	})
}

func TestMacroLoad(t *testing.T) {
	ctx := context.Background()
	notFound := &gateway.APIError{StatusCode: http.StatusNotFound}

	t.Run("saved targets", func(t *testing.T) {
		api := new(MockMacroAPI)
		saved := split(30, 40, 30)
		api.On("GetMacroTargets", mock.Anything).Return(&saved, nil).Once()

		got, err := NewMacroService(api, nil).Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, saved, got)
	})

	t.Run("defaults use profile goal", func(t *testing.T) {
		api := new(MockMacroAPI)
		api.On("GetMacroTargets", mock.Anything).Return(nil, notFound).Once()
		profile := testutil.TestProfile()
		profile.DailyCalorieGoal = 1800
		session := fixedSession{Status: models.StatusAuthenticated, User: profile}

		got, err := NewMacroService(api, session).Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, float64(1800), got.DailyCalorieGoal)
		assert.Equal(t, nutrition.DefaultSplit, got.MacroSplit)
	})

	t.Run("defaults without profile", func(t *testing.T) {
		api := new(MockMacroAPI)
		api.On("GetMacroTargets", mock.Anything).Return(nil, notFound).Once()

		got, err := NewMacroService(api, nil).Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, float64(DefaultCalorieGoal), got.DailyCalorieGoal)
	})

	t.Run("other errors surface", func(t *testing.T) {
		api := new(MockMacroAPI)
		api.On("GetMacroTargets", mock.Anything).Return(nil, &gateway.APIError{StatusCode: http.StatusUnauthorized}).Once()

		_, err := NewMacroService(api, nil).Load(ctx)

		assert.True(t, IsAuthentication(err))
	})
}
