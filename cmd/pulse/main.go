package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ieraasyl/PulseClient/internal/database"
	"github.com/ieraasyl/PulseClient/internal/gateway"
	"github.com/ieraasyl/PulseClient/internal/models"
	"github.com/ieraasyl/PulseClient/internal/services"
	"github.com/ieraasyl/PulseClient/pkg/cache"
	"github.com/ieraasyl/PulseClient/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app holds the wired client shared by all commands.
type app struct {
	cfg       *config.Config
	store     database.Store
	client    *gateway.Client
	session   *services.SessionController
	nutrition *services.NutritionService
	macros    *services.MacroService
	meals     *services.MealLogService
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "pulse",
		Short:         "Pulse meal-logging client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	rootCmd.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newDayCmd(a),
		newWeekCmd(a),
		newMealsCmd(a),
		newMacrosCmd(a),
		newServeCmd(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		a.close()
		stop()
		os.Exit(1)
	}
}

func (a *app) init() error {
	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	store, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	a.store = store

	a.client = gateway.New(cfg.API, store)
	a.session = services.NewSessionController(a.client, store, cfg.Auth)
	a.client.SetUnauthorizedHandler(a.session.HandleUnauthorized)
	reader, cached := a.mealsAPI()
	a.nutrition = services.NewNutritionService(reader, cfg.Summary.Source)
	a.macros = services.NewMacroService(a.client, a.session)
	if cached != nil {
		a.meals = services.NewMealLogService(a.client, cached)
	} else {
		a.meals = services.NewMealLogService(a.client, nil)
	}

	log.Debug().
		Str("api", cfg.API.BaseURL).
		Str("store", cfg.Store.Kind).
		Str("summary_source", cfg.Summary.Source).
		Msg("Client initialized")

	return nil
}

// mealsAPI returns the client, wrapped in a meal cache when the token store
// is redis and caching is enabled. The cache is also returned, or nil. Cached
// days of a user are dropped when that user's session ends.
func (a *app) mealsAPI() (services.MealsAPI, *services.CachedMeals) {
	rs, ok := a.store.(interface{ Client() *redis.Client })
	if !ok || a.cfg.Cache.TTL <= 0 {
		return a.client, nil
	}

	meals := services.NewCachedMeals(a.client, cache.NewCache(rs.Client()), a.session, a.cfg.Cache.TTL)

	var lastUser string
	a.session.Subscribe(func(s models.Session) {
		if s.User != nil {
			lastUser = s.User.UserID
			return
		}
		if s.Status != models.StatusUnauthenticated || lastUser == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := meals.Forget(ctx, lastUser); err != nil {
			log.Warn().Err(err).Msg("Failed to drop cached meals")
		}
		lastUser = ""
	})

	log.Debug().Dur("ttl", a.cfg.Cache.TTL).Msg("Meal cache enabled")
	return meals, meals
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close token store")
	}
	a.store = nil
}

// requireSession resumes the stored session and fails unless it is
// authenticated.
func (a *app) requireSession(ctx context.Context) error {
	snap, err := a.session.Resume(ctx)
	if err != nil {
		return err
	}
	if !snap.Authenticated() {
		return fmt.Errorf("not logged in, run `pulse login` first")
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
