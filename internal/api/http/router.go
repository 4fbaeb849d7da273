package http

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tracklet/tracklet/internal/platform/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

// RouterConfig holds the handlers and settings the router is built from.
type RouterConfig struct {
	Track        *TrackHandler
	Dashboard    *DashboardHandler
	AllowOrigins []string
	Log          *logger.Logger
}

// NewRouter builds the gin engine serving /track, the dashboard and health.
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.SetHTMLTemplate(tmpl)

	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	router.Use(RequestLogger(log))
	router.Use(cors.New(corsConfig(cfg.AllowOrigins)))

	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{
			Error:     "method not allowed",
			RequestID: GetRequestID(c.Request.Context()),
		})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "not found",
			RequestID: GetRequestID(c.Request.Context()),
		})
	})

	router.GET("/health", Health)
	router.POST("/track", cfg.Track.Track)
	router.GET("/", cfg.Dashboard.Page)
	router.GET("/api/dashboard", cfg.Dashboard.JSON)

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID", "X-Correlation-ID"},
		ExposeHeaders: []string{"X-Request-ID", "X-Correlation-ID"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "tracklet"})
}
