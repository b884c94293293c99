package router

import (
	"context"
	"net/http"
	"time"

	apphttp "travel_crm_backend/internal/http"
	"travel_crm_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	opsRequestsPerSecond = 10
	opsBurst             = 30
	healthTimeout        = 2 * time.Second
)

func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(cors.New(corsConfig(app)))

	engine.GET("/api/health", func(c *gin.Context) {
		if app.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()
			if err := app.Health.Ping(ctx); err != nil {
				app.Logger.Error("health check failed", "error", err)
				httpkit.JSON(c, http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		httpkit.OK(c, gin.H{"status": "ok"})
	})

	v1 := engine.Group("/api/v1")
	limiter := httpkit.NewIPRateLimiter(rate.Limit(opsRequestsPerSecond), opsBurst, app.Logger)
	ops := v1.Group("", limiter.RateLimit(), httpkit.APIKeyRequired(app.Config.GetOpsAPIKey()))

	routerCtx := &apphttp.RouterContext{Engine: engine, V1: v1, Ops: ops}
	for _, module := range app.Modules {
		module.RegisterRoutes(routerCtx)
		app.Logger.Info("registered http module", "module", module.Name())
	}

	return engine
}

func corsConfig(app *apphttp.App) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", httpkit.HeaderAPIKey, "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if app.Config.GetCORSAllowAll() || len(app.Config.GetCORSOrigins()) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = app.Config.GetCORSOrigins()
	}
	return cfg
}
