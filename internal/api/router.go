package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/halden/converse/internal/api/handler"
	custommw "github.com/halden/converse/internal/api/middleware"
	"github.com/halden/converse/internal/backend"
	"github.com/halden/converse/internal/backend/gemini"
	"github.com/halden/converse/internal/backend/httpsse"
	"github.com/halden/converse/internal/config"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/security"
	"github.com/halden/converse/internal/service"
	"github.com/rs/zerolog/log"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, remote domain.RemoteStore, cache domain.MessageCache) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(custommw.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	validator := security.NewTokenValidator(cfg.Auth.JWTSecret)

	// Chat backend providers
	backends := backend.NewRouter(cfg.Backend.DefaultProvider)
	log.Info().Msgf("Initializing chat backends. Default: %s", cfg.Backend.DefaultProvider)

	if cfg.Backend.HTTPSSE.Endpoint != "" {
		log.Info().Str("endpoint", cfg.Backend.HTTPSSE.Endpoint).Msg("Registering HTTP streaming backend")
		backends.RegisterProvider(httpsse.NewProvider(cfg.Backend.HTTPSSE))
	}
	if cfg.Backend.Gemini.APIKey != "" {
		log.Info().Str("model", cfg.Backend.Gemini.Model).Msg("Registering Gemini backend")
		backends.RegisterProvider(gemini.NewProvider(cfg.Backend.Gemini))
	} else {
		log.Warn().Msg("Gemini API key is empty, skipping registration")
	}

	// Services
	sessionService := service.NewSessionService(remote, cache)
	turnService := service.NewTurnService(sessionService, backends)
	reactionService := service.NewReactionService(remote)
	searchService := service.NewSearchService(remote, cfg.Search)

	// Handlers
	sessionHandler := handler.NewSessionHandler(sessionService)
	turnHandler := handler.NewTurnHandler(turnService)
	voteHandler := handler.NewVoteHandler(reactionService)
	searchHandler := handler.NewSearchHandler(searchService)

	authMiddleware := custommw.NewAuthMiddleware(validator)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Get("/providers", handler.ListProviders(backends))
			r.Get("/search", searchHandler.Search)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)
				r.Get("/active", sessionHandler.Active)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Post("/activate", sessionHandler.Activate)
					r.Patch("/", sessionHandler.Rename)
					r.Delete("/", sessionHandler.Delete)

					r.Post("/messages", turnHandler.Send)
					r.Route("/messages/{messageID}", func(r chi.Router) {
						r.Put("/", turnHandler.Edit)
						r.Post("/regenerate", turnHandler.Regenerate)
					})
				})
			})

			r.Post("/messages/{messageID}/vote", voteHandler.Toggle)
		})
	})

	return r
}
