package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ieraasyl/PulseClient/internal/handlers"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/nutrition"
	"github.com/ieraasyl/PulseClient/pkg/utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.session.Login(cmd.Context(), models.LoginRequest{Username: username, Password: password})
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")

	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var (
		req      models.RegisterRequest
		calories float64
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in with it",
		Long: `Create an account and log in with it.

Example: pulse register -u jdoe -e jdoe@example.com -p secret123 --confirm secret123 --calories 2000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("calories") {
				req.DailyCalorieGoal = &calories
			}
			snap, err := a.session.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}

	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "Account password")
	cmd.Flags().StringVar(&req.ConfirmPassword, "confirm", "", "Password confirmation")
	cmd.Flags().Float64Var(&calories, "calories", 0, "Daily calorie goal (optional)")

	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Resume so the API is told which token to revoke.
			if _, err := a.session.Resume(cmd.Context()); err != nil {
				log.Debug().Err(err).Msg("Stored session could not be resumed")
			}
			if err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			return printJSON(a.session.Snapshot())
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.session.Resume(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}
}

func newDayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "day [date]",
		Short: "Summarize one day (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}

			summary, err := a.nutrition.Day(ctx, dateArg(args))
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}

	return cmd
}

func newWeekCmd(a *app) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "week [end-date]",
		Short: "Summarize the days ending at end-date (default today), oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}

			summary, err := a.nutrition.Range(ctx, dateArg(args), days)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}

	cmd.Flags().IntVar(&days, "days", nutrition.DefaultRangeDays, "Number of days in the range")

	return cmd
}

func newMealsCmd(a *app) *cobra.Command {
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "meals",
		Short: "List logged meals, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}

			meals, err := a.nutrition.Meals(ctx, utils.NewPageParams(page, pageSize))
			if err != nil {
				return err
			}
			return printJSON(meals)
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", utils.DefaultPageSize, "Meals per page")

	cmd.AddCommand(newMealsLogCmd(a), newMealsDeleteCmd(a), newMealsAddItemCmd(a))

	return cmd
}

func newMacrosCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "macros",
		Short: "Show the macro targets with gram goals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}

			targets, err := a.macros.Load(ctx)
			if err != nil {
				return err
			}
			return printJSON(a.macros.Preview(targets))
		},
	}

	cmd.AddCommand(newMacrosPreviewCmd(a), newMacrosSaveCmd(a))

	return cmd
}

func macroFlags(cmd *cobra.Command, targets *models.MacroTargets) {
	cmd.Flags().Float64Var(&targets.DailyCalorieGoal, "calories", 2000, "Daily calorie goal")
	cmd.Flags().Float64Var(&targets.ProteinPercent, "protein", 25, "Protein share of calories, percent")
	cmd.Flags().Float64Var(&targets.CarbsPercent, "carbs", 50, "Carbohydrate share of calories, percent")
	cmd.Flags().Float64Var(&targets.FatPercent, "fat", 25, "Fat share of calories, percent")
}

func newMacrosPreviewCmd(a *app) *cobra.Command {
	var targets models.MacroTargets

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Validate a target set and show its gram goals without saving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(a.macros.Preview(targets))
		},
	}
	macroFlags(cmd, &targets)

	return cmd
}

func newMacrosSaveCmd(a *app) *cobra.Command {
	var targets models.MacroTargets

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Validate and save a target set",
		Long: `Validate and save a target set. The three percentages must sum to 100
(within 0.01). Individual percentages are not range-checked.

Example: pulse macros save --calories 2200 --protein 30 --carbs 40 --fat 30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.requireSession(ctx); err != nil {
				return err
			}

			saved, err := a.macros.Save(ctx, targets)
			if err != nil {
				return err
			}
			return printJSON(a.macros.Preview(*saved))
		},
	}
	macroFlags(cmd, &targets)

	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local dashboard API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == "" {
				port = a.cfg.Dashboard.Port
			}
			return a.serve(cmd.Context(), port)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Dashboard port (default PULSE_DASHBOARD_PORT)")

	return cmd
}

func (a *app) serve(ctx context.Context, port string) error {
	if _, err := a.session.Resume(ctx); err != nil {
		log.Warn().Err(err).Msg("Stored session could not be resumed")
	}

	router := handlers.NewRouter(
		a.cfg.CORS.AllowedOrigins,
		handlers.NewHealthHandler(a.store, a.cfg.Store.Kind),
		handlers.NewSessionHandler(a.session),
		handlers.NewNutritionHandler(a.nutrition, a.macros),
		handlers.NewMealHandler(a.meals),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("api", a.cfg.API.BaseURL).Msg("Dashboard started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dashboard failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down dashboard...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Dashboard forced to shutdown")
	}

	log.Info().Msg("Dashboard stopped gracefully")
	return nil
}

// dateArg returns args[0], or today's date when no argument was given.
func dateArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return time.Now().Format(nutrition.DateLayout)
}
