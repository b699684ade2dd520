package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/analyses"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/services/health"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/config"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/metrics"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/server/middleware"
	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/server/respond"
)

// RouterDeps carries the handlers the router wires up.
type RouterDeps struct {
	Config          config.Config
	AnalysisHandler *analyses.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(analysisRateLimits()),
	)

	r.GET("/metrics", metrics.Handler())

	healthSvc := health.NewService(deps.Config.Env)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, healthSvc.Status())
	})
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}

	return r
}

// analysisRateLimits keeps status polling cheap while throttling job creation.
func analysisRateLimits() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"CREATE":  {Rate: 0.5, Burst: 5},
			"POLLING": {Rate: 5, Burst: 20},
		},
		GroupFor: func(c *gin.Context) string {
			switch {
			case c.Request.Method == http.MethodPost && strings.HasPrefix(c.FullPath(), "/api/v1/analyses"):
				return "CREATE"
			case c.Request.Method == http.MethodGet && c.FullPath() == "/api/v1/analyses/:id":
				return "POLLING"
			default:
				return ""
			}
		},
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
