package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/filegate/internal/logging"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FilesPrefix is where the files API of a storage is mounted.
const FilesPrefix = "/api/storages/:storage_id/files"

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Secret     []byte
	EnableCORS bool
	Gatherer   prometheus.Gatherer
	Logger     logging.Logger
}

// NewRouter builds the HTTP surface: the authenticated files API plus
// /health and /metrics.
func NewRouter(files *FilesHandler, opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery(), LoggingMiddleware(logger.With("module", "http")))

	if opts.EnableCORS {
		router.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			ExposeHeaders:    []string{"Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	files.Register(router.Group(FilesPrefix, AuthMiddleware(opts.Secret)))

	return router
}
