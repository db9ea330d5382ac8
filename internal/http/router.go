package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter creates and configures the Gin router. An empty
// allowedOrigins list allows every origin.
func SetupRouter(handler *Handler, allowedOrigins []string) *gin.Engine {
	router := gin.Default()

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// API v1 routes.
	v1 := router.Group("/v1")
	datasets := v1.Group("/datasets")
	datasets.GET("", handler.ListDatasets)
	datasets.GET("/info", handler.GetDatasetInfo)

	conversions := v1.Group("/conversions")
	conversions.POST("", handler.CreateConversion)
	conversions.GET("/:id", handler.GetConversion)

	v1.GET("/series", handler.GetSeries)

	// Health check.
	router.GET("/health", handler.HealthCheck)

	return router
}
