// Package api provides the management surface of the gateway: the home page,
// URL conversion, token inspection, health and metrics endpoints, and the
// debug-only admin diagnostics, all on a Gin engine dispatched to by the
// gateway for non-subdomain hosts.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/synapsr/proxywarp/internal/api/handlers"
	"github.com/synapsr/proxywarp/internal/api/middleware"
	"github.com/synapsr/proxywarp/internal/config"
)

// New builds the management engine.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handler) *gin.Engine {
	if cfg == nil {
		panic("api.New: cfg is nil")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(logger))

	RegisterRoutes(engine, h, cfg, logger)
	MountWeb(engine)

	return engine
}
