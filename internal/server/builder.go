package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"warp2api-go/internal/config"
	mw "warp2api-go/internal/middleware"
	"warp2api-go/internal/stats"
	"warp2api-go/internal/tokenpool"
	"warp2api-go/internal/upstream"
)

// Dependencies encapsulates runtime services required to build the HTTP engine.
type Dependencies struct {
	Pool         *tokenpool.Pool
	Orchestrator *upstream.Orchestrator
	Facade       *upstream.Facade
	Usage        *stats.UsageStats
	Provisioner  upstream.AnonymousProvisioner
}

// BuildEngine constructs the Gin engine serving the bridge and management
// surface.
func BuildEngine(cfg *config.Config, deps Dependencies) *gin.Engine {
	if !cfg.Security.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	_ = engine.SetTrustedProxies([]string{})

	engine.Use(mw.Recovery(), mw.RequestID(), mw.Metrics(), mw.CORS(), mw.RequestLogger())

	h := &handler{cfg: cfg, deps: deps}

	engine.GET("/healthz", h.healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Security.APIToken == "" {
		log.Warn("API_TOKEN is not set; management endpoints are unauthenticated")
	}
	authed := engine.Group("/", mw.BearerAuth(cfg.Security.APIToken))

	authed.POST("/api/warp/send", h.warpSend)

	pool := authed.Group("/v1/pool")
	pool.GET("/stats", h.poolStats)
	pool.GET("/health", h.poolHealth)
	pool.GET("/usage", h.poolUsage)
	pool.POST("/recover", h.poolRecover)
	pool.POST("/tokens", h.addToken)
	pool.POST("/tokens/:id/reactivate", h.reactivateToken)
	pool.POST("/provision", h.provision)
	pool.POST("/outcome", h.reportOutcome)

	return engine
}
