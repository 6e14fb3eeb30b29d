package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/crowdcount/internal/api/handlers"
	"github.com/your-org/crowdcount/internal/api/ws"
	"github.com/your-org/crowdcount/internal/auth"
	"github.com/your-org/crowdcount/internal/zones"
)

type RouterConfig struct {
	APIKey     string
	Controller handlers.Controller
	Counts     handlers.CountsReader
	Zones      *zones.Store
	Hub        *ws.Hub
	// VideoFeed serves the annotated MJPEG stream; nil disables it.
	VideoFeed http.Handler
	// Checks run on /readyz, keyed by dependency name.
	Checks map[string]handlers.Check
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

	api := r.Group("/api")
	api.Use(auth.RequireKey(cfg.APIKey))

	zoneH := handlers.NewZoneHandler(cfg.Zones)
	api.POST("/set_zones", zoneH.Set)
	api.GET("/zones", zoneH.List)

	analysisH := handlers.NewAnalysisHandler(cfg.Controller, cfg.Counts, cfg.VideoFeed)
	api.POST("/start_analysis", analysisH.Start)
	api.POST("/stop_analysis", analysisH.Stop)
	api.GET("/live_counts", analysisH.LiveCounts)
	api.GET("/status", analysisH.Status)
	api.GET("/video_feed", analysisH.VideoFeed)

	if cfg.Hub != nil {
		api.GET("/ws", cfg.Hub.HandleWS)
	}

	return r
}
