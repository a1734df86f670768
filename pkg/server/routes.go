package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	httpLogger "github.com/chi-middleware/logrus-logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/riandyrn/otelchi"

	"github.com/getzep/clipserve/internal"
	"github.com/getzep/clipserve/pkg/auth"
	"github.com/getzep/clipserve/pkg/models"
	"github.com/getzep/clipserve/pkg/server/apihandlers"
)

var log = internal.GetLogger()

const (
	ReadHeaderTimeout = 5 * time.Second
	RouterName        = "clipserve-api"
)

// Create creates a new HTTP server with the given app state
func Create(appState *models.AppState) (*http.Server, error) {
	router, err := setupRouter(appState)
	if err != nil {
		return nil, err
	}

	cfg := appState.Config.Server
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           router,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}, nil
}

// @title						clipserve REST API
// @version					0.x
// @description				Image and text embeddings and zero-shot image/text matching.
// @license.name				Apache 2.0
// @license.url				http://www.apache.org/licenses/LICENSE-2.0.html
// @BasePath					/
// @schemes					http https
// @securityDefinitions.apikey	Bearer
// @in							header
// @name						Authorization
// @description				Type "Bearer" followed by a space and JWT token.
func setupRouter(appState *models.AppState) (*chi.Mux, error) {
	router := chi.NewRouter()
	router.Use(RequestID)
	router.Use(httpLogger.Logger("router", log))
	router.Use(RenderPanics)
	router.Use(middleware.RealIP)
	router.Use(SendVersion)
	router.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, _ string) bool { return true },
		AllowedMethods:  []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:  []string{"Authorization", "Content-Type"},
	}))
	router.Use(middleware.Heartbeat("/healthz"))
	router.Use(otelchi.Middleware(
		RouterName,
		otelchi.WithChiRoutes(router),
		otelchi.WithRequestMethodInSpanName(true),
	))

	if appState.Config.Metrics.Enabled {
		router.Handle("/metrics", appState.Metrics.Handler())
	}

	var authMiddleware []func(http.Handler) http.Handler
	if appState.Config.Auth.Required {
		verifier, err := auth.JWTVerifier(appState.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to configure authentication: %w", err)
		}
		log.Info("JWT authentication required")
		authMiddleware = append(authMiddleware, verifier, auth.Authenticator)
	}

	router.Group(func(r chi.Router) {
		r.Use(authMiddleware...)
		r.Use(middleware.RequestSize(appState.Config.Server.MaxRequestSize))

		r.Post(apihandlers.ImageEmbeddingEndpoint, apihandlers.ImageEmbeddingHandler(appState))
		r.Post(apihandlers.TextEmbeddingEndpoint, apihandlers.TextEmbeddingHandler(appState))
		r.Post(apihandlers.MatchEndpoint, apihandlers.MatchHandler(appState))
	})

	return router, nil
}
