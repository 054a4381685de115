package handlers

import (
	"github.com/quiltdb/quilt/internal/config"
	"github.com/quiltdb/quilt/internal/coordinator"
	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/metadata"
)

// Handler contains all HTTP handlers
type Handler struct {
	logger  *logging.Logger
	store   metadata.Store
	writer  *coordinator.WriteTargetRouter
	records *coordinator.RecordCoordinator
	prober  *coordinator.HealthProber
	cfg     config.RouterConfig
}

// New creates a new handler instance
func New(logger *logging.Logger, store metadata.Store, writer *coordinator.WriteTargetRouter,
	records *coordinator.RecordCoordinator, prober *coordinator.HealthProber, cfg config.RouterConfig,
) *Handler {
	return &Handler{
		logger:  logger,
		store:   store,
		writer:  writer,
		records: records,
		prober:  prober,
		cfg:     cfg,
	}
}
