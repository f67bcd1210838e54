package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/pcount/internal/api/handlers"
	"github.com/your-org/pcount/internal/api/ws"
	"github.com/your-org/pcount/internal/auth"
	"github.com/your-org/pcount/internal/tracking"
)

type RouterConfig struct {
	APIKey    string
	Streams   handlers.StreamStore
	Crossings handlers.CrossingStore
	Objects   handlers.ObjectReader
	Control   handlers.ControlPublisher
	Hub       *ws.Hub
	Tallies   *tracking.Tallies
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]handlers.ReadinessCheck
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Streams
	streamH := handlers.NewStreamHandler(cfg.Streams, cfg.Control, cfg.Tallies)
	v1.POST("/streams", streamH.Create)
	v1.GET("/streams", streamH.List)
	v1.GET("/streams/:id", streamH.Get)
	v1.POST("/streams/:id/start", streamH.Start)
	v1.POST("/streams/:id/stop", streamH.Stop)
	v1.DELETE("/streams/:id", streamH.Delete)
	v1.GET("/streams/:id/counts", streamH.Counts)

	// Crossings
	crossingH := handlers.NewCrossingHandler(cfg.Crossings, cfg.Objects)
	v1.GET("/streams/:id/crossings", crossingH.List)
	v1.GET("/crossings/:id/frame", crossingH.Frame)

	return r
}
