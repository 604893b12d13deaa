package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ieraasyl/PulseClient/internal/middleware"
)

// NewRouter builds the dashboard router.
//
// Routes:
//
//	GET  /health, /ready, /metrics
//	GET  /api/session
//	POST /api/session/login, /register, /logout, /resume
//	GET  /api/nutrition/daily/{date}
//	GET  /api/nutrition/weekly?end_date=&days=
//	GET  /api/nutrition/progress/{date}
//	GET  /api/meals?page=&page_size=, POST /api/meals
//	DELETE /api/meals/{id}
//	POST /api/meals/{id}/items, DELETE /api/meals/{id}/items/{item_id}
//	GET  /api/macros, PUT /api/macros, POST /api/macros/preview
func NewRouter(allowedOrigins []string, health *HealthHandler, session *SessionHandler, nutrition *NutritionHandler, meals *MealHandler) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", middleware.MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", session.Get)
			r.Post("/login", session.Login)
			r.Post("/register", session.Register)
			r.Post("/logout", session.Logout)
			r.Post("/resume", session.Resume)
		})

		r.Route("/nutrition", func(r chi.Router) {
			r.Get("/daily/{date}", nutrition.Daily)
			r.Get("/weekly", nutrition.Weekly)
			r.Get("/progress/{date}", nutrition.Progress)
		})

		r.Route("/meals", func(r chi.Router) {
			r.Get("/", nutrition.Meals)
			r.Post("/", meals.Log)
			r.Delete("/{id}", meals.Delete)
			r.Post("/{id}/items", meals.AddItem)
			r.Delete("/{id}/items/{item_id}", meals.DeleteItem)
		})

		r.Route("/macros", func(r chi.Router) {
			r.Get("/", nutrition.GetMacros)
			r.Put("/", nutrition.SaveMacros)
			r.Post("/preview", nutrition.PreviewMacros)
		})
	})

	return r
}
