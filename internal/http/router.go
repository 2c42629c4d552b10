package http

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/asktech/accounts-api/internal/account"
	"github.com/asktech/accounts-api/internal/config"
	"github.com/asktech/accounts-api/internal/httputil"
	"github.com/asktech/accounts-api/internal/logging"
)

// NewRouter wires the HTTP surface of the accounts API
func NewRouter(cfg *config.Config, handler *account.Handler, authMiddleware *account.Middleware, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// CORS must run before anything writes headers
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Use(SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Compress(5))

	r.Get("/health", handleHealth)

	if cfg.Server.IsDevelopment() {
		log.Println("Swagger UI enabled at /swagger/*")
		r.Get("/swagger/*", httpSwagger.WrapHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", handler.Register)
		r.Get("/verify/{token}", handler.VerifyAccount)
		r.Post("/resend-verification", handler.ResendVerification)
		r.Post("/login", handler.Login)
		r.Post("/refresh", handler.Refresh)
		r.Post("/set-password/{token}", handler.SetPassword)
		r.Post("/reset-password", handler.ResetPassword)
		r.Post("/block-token", handler.BlockToken)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Put("/change-password", handler.ChangePassword)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Use(authMiddleware.RequireAdmin)
			r.Get("/", handler.ListUsers)
		})

		r.Get("/{id}", handler.GetProfile)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Patch("/{id}", handler.UpdateProfile)
			r.Delete("/{id}", handler.DeleteProfile)
		})
	})

	return r
}

// handleHealth is a simple liveness endpoint
// @Summary      Health check
// @Description  Check if the API is running
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /health [get]
func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, map[string]string{"status": "api is running"}, http.StatusOK)
}
