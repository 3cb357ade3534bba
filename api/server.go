/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:       Request logging
  2. Recoverer:    Panic recovery (500 instead of crash)
  3. RequestID:    Unique ID per request for tracing
  4. CORS:         Cross-origin requests for frontend
  5. authenticate: Bearer-token verification (everything under /api)

ROUTE GROUPS:
  /api/subjects/*     Subject and schedule management
  /api/attendance/*   Attendance marking and monthly stats
  /api/focus          Focus sessions
  /api/user/*         Caller's stats and settings
  /api/leaderboard    Rankings
  /api/admin/*        Admin operations (admin role required)
  /health             Liveness probe (unauthenticated)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Auth middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)

		// Subject routes
		r.Route("/subjects", func(r chi.Router) {
			r.Get("/", h.ListSubjects)
			r.Post("/", h.CreateSubject)
			r.Get("/{id}", h.GetSubject)
			r.Put("/{id}", h.UpdateSubject)
			r.Delete("/{id}", h.DeleteSubject)
		})

		// Attendance routes
		r.Route("/attendance", func(r chi.Router) {
			r.Get("/", h.GetAttendance)
			r.Post("/", h.MarkAttendance)
			r.Get("/monthly-stats", h.MonthlyStats)
		})

		// Focus routes
		r.Route("/focus", func(r chi.Router) {
			r.Get("/", h.ListFocus)
			r.Post("/", h.LogFocus)
		})

		// User routes
		r.Route("/user", func(r chi.Router) {
			r.Get("/stats", h.UserStats)
			r.Get("/settings", h.GetSettings)
			r.Patch("/settings", h.UpdateSettings)
		})

		r.Get("/leaderboard", h.Leaderboard)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.AdminListUsers)
				r.Get("/{id}", h.AdminGetUser)
				r.Put("/{id}", h.AdminUpdateUser)
				r.Delete("/{id}", h.AdminDeleteUser)
				r.Get("/{id}/attendance", h.AdminListAttendance)
				r.Delete("/{id}/attendance/{recordId}", h.AdminDeleteRecord)
			})
		})
	})

	return r
}
