package models

import (
	"github.com/getzep/clipserve/config"
	"github.com/getzep/clipserve/pkg/observability"
)

// AppState is a struct that holds the state of the application
// Use cmd.NewAppState to create a new instance
type AppState struct {
	EmbeddingService EmbeddingService
	ImageResolver    ImageResolver
	Metrics          *observability.Metrics
	Config           *config.Config
}
