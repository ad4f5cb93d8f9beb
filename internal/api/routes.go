package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synapsr/proxywarp/internal/api/handlers"
	"github.com/synapsr/proxywarp/internal/api/middleware"
	"github.com/synapsr/proxywarp/internal/config"
	"github.com/synapsr/proxywarp/internal/metrics"
)

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config, logger *slog.Logger) {
	r.GET("/", func(c *gin.Context) {
		if c.Query("url") != "" {
			h.ConvertRedirect(c)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})

	r.GET("/convert", h.Convert)
	r.GET("/test-token/:token", h.TestToken)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Diagnostics are only reachable in debug deployments, optionally behind
	// a shared key.
	if cfg.Server.Debug {
		admin := r.Group("/admin")
		if cfg.Admin.APIKey != "" {
			admin.Use(middleware.RequireAPIKey(cfg.Admin.APIKey, logger))
		}
		admin.GET("/diagnostic", h.Diagnostic)
		admin.GET("/test-connection", h.TestConnection)
		admin.GET("/reload-tokens", h.ReloadTokens)
		admin.GET("/add-test-token", h.AddTestToken)
	}
}
