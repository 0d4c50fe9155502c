package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/usecase"
)

// SetupRouter creates and configures the Gin router. An empty origin list,
// or one containing "*", allows all origins.
func SetupRouter(reports *usecase.ReportService, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	if len(allowedOrigins) == 0 || contains(allowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	router.Use(cors.New(corsConfig))

	handler := NewHandler(reports)

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.GET("/datasets", handler.GetDatasets)
	v1.GET("/comparisons", handler.GetComparisons)
	v1.GET("/uncertainty", handler.GetUncertainty)
	v1.GET("/manifest", handler.GetManifest)

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
