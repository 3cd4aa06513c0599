/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the browser client
  5. Auth:       Bearer token on every group except health and the
                 read-only scenario routes

ROUTE GROUPS:
  /api/health             Liveness
  /api/me                 Caller's session
  /api/substitutions/*    Substitution handshake
  /api/leaves/*           Leave submission, approval chain and history
  /api/work/*             Night and compensatory work records
  /api/credits/*          Credit ledger; accrue needs a Principal token
  /api/scenarios/*        Demo scenarios, only with WithScenarios(true);
                          load and reset need a Principal token

SEE ALSO:
  - handlers.go: Handler implementations
  - auth/auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/leave-engine/workflow"
)

type routerConfig struct {
	scenarios bool
}

// RouterOption configures NewRouter.
type RouterOption func(*routerConfig)

// WithScenarios mounts the demo scenario routes. Off by default; the
// server enables it outside production.
func WithScenarios(enabled bool) RouterOption {
	return func(c *routerConfig) { c.scenarios = enabled }
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts ...RouterOption) *chi.Mux {
	var rc routerConfig
	for _, opt := range opts {
		opt(&rc)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Scenario routes
		if rc.scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)

				r.Group(func(r chi.Router) {
					r.Use(h.requireAuth)
					r.Use(h.requireRole(workflow.RolePrincipal))
					r.Post("/load", h.LoadScenario)
					r.Post("/reset", h.ResetStore)
				})
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Get("/me", h.Me)

			// Substitution routes
			r.Route("/substitutions", func(r chi.Router) {
				r.Get("/candidates", h.SearchCandidates)
				r.Post("/", h.CreateSubstitution)
				r.Get("/sent", h.ListSent)
				r.Get("/received", h.ListReceived)
				r.Post("/{id}/accept", h.AcceptSubstitution)
				r.Post("/{id}/reject", h.RejectSubstitution)
			})

			// Leave routes
			r.Route("/leaves", func(r chi.Router) {
				r.Post("/", h.SubmitLeave)
				r.Get("/recent", h.RecentLeaves)
				r.Get("/queue", h.Queue)
				r.Get("/balance", h.GetBalance)
				r.Post("/{id}/approve", h.ApproveLeave)
				r.Post("/{id}/reject", h.RejectLeave)
				r.Post("/{id}/cancel", h.CancelLeave)
				r.Get("/{id}/history", h.LeaveHistory)
			})

			// Work records and the credit ledger
			r.Route("/work", func(r chi.Router) {
				r.Post("/", h.RecordWork)
				r.Get("/", h.ListWork)
				r.Get("/queue", h.WorkQueue)
				r.Post("/{id}/approve", h.ApproveWork)
				r.Post("/{id}/reject", h.RejectWork)
			})
			r.Route("/credits", func(r chi.Router) {
				r.Get("/", h.ListCredits)
				r.With(h.requireRole(workflow.RolePrincipal)).Post("/accrue", h.Accrue)
			})
		})
	})

	return r
}

// requireAuth verifies bearer tokens. Without an issuer every protected
// route answers 401.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	if h.Issuer == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.session(w, r)
		})
	}
	return h.Issuer.Middleware(next)
}

// requireRole answers 403 unless the caller has role.
func (h *Handler) requireRole(role workflow.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := h.session(w, r)
			if !ok {
				return
			}
			if session.Role != role {
				writeJSON(w, http.StatusForbidden, ErrorResponse{
					Error: "Only the " + string(role) + " may do this",
					Code:  workflow.CodeForbidden,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
