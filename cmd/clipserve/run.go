package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getzep/clipserve/config"
	"github.com/getzep/clipserve/pkg/auth"
	"github.com/getzep/clipserve/pkg/clip"
	"github.com/getzep/clipserve/pkg/imageresolver"
	"github.com/getzep/clipserve/pkg/models"
	"github.com/getzep/clipserve/pkg/observability"
	"github.com/getzep/clipserve/pkg/server"
)

const (
	modelLoadTimeout = 5 * time.Minute
	shutdownTimeout  = 30 * time.Second
)

// run is the entrypoint for the clipserve server
func run() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatalf("Error configuring clipserve: %s", err)
	}

	handleCLIOptions(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %s", err)
	}

	log.Infof("Starting clipserve server version %s", config.VersionString)
	config.SetLogLevel(cfg)

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(
		ctx,
		cfg.Tracing.ServiceName,
		config.VersionString,
		cfg.Tracing.Enabled,
	)
	if err != nil {
		log.Fatalf("Failed to set up tracing: %s", err)
	}

	appState, pool := NewAppState(ctx, cfg)

	srv, err := server.Create(appState)
	if err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	setupSignalHandler(srv, func() {
		pool.Close()
		if err := shutdownTracing(context.Background()); err != nil {
			log.Errorf("Error shutting down tracer: %v", err)
		}
		close(done)
	})

	log.Infof("Listening on: %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	<-done
}

// NewAppState loads the model through the inference runtime and wires the services that
// handlers depend on. The returned pool must be closed on shutdown.
func NewAppState(ctx context.Context, cfg *config.Config) (*models.AppState, *clip.Pool) {
	metrics := observability.NewMetrics()

	model := clip.NewRemoteModel(cfg)
	loadCtx, cancel := context.WithTimeout(ctx, modelLoadTimeout)
	defer cancel()
	log.Infof(
		"Loading model %s (%s, %s) on %s",
		cfg.ModelPath(), cfg.Model.VisionModelName, cfg.Model.TextModelName, cfg.Model.Device,
	)
	if err := model.Load(loadCtx); err != nil {
		log.Fatalf("Failed to load model: %s", err)
	}
	log.Infof("Model loaded. Embedding dimensions: %d", model.Dimensions())

	pool := clip.NewPool(cfg.Model.Workers)

	return &models.AppState{
		EmbeddingService: clip.NewService(model, pool, metrics),
		ImageResolver:    imageresolver.NewResolverFromConfig(cfg),
		Metrics:          metrics,
		Config:           cfg,
	}, pool
}

// handleCLIOptions handles CLI options that don't require the server to run
func handleCLIOptions(cfg *config.Config) {
	if showVersion {
		fmt.Println(config.VersionString)
		os.Exit(0)
	}
	if dumpConfig {
		out, err := dumpConfigYAML(cfg)
		if err != nil {
			log.Fatalf("Error dumping config: %s", err)
		}
		fmt.Print(out)
		os.Exit(0)
	}
	if generateKey {
		token, err := auth.GenerateJWT(cfg)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(token)
		os.Exit(0)
	}
}

// dumpConfigYAML renders the effective config with the auth secret masked.
func dumpConfigYAML(cfg *config.Config) (string, error) {
	redacted := *cfg
	if redacted.Auth.Secret != "" {
		redacted.Auth.Secret = "********"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// setupSignalHandler drains the server on SIGINT or SIGTERM, then runs cleanup.
func setupSignalHandler(srv *http.Server, cleanup func()) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		log.Infof("Received %s, shutting down", sig)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("Error shutting down server: %v", err)
		}
		cleanup()
	}()
}
