package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/voxhome/voxhome-backend/internal/handlers"
)

type RouterConfig struct {
	HealthHandler   *handlers.HealthHandler
	LocationHandler *handlers.LocationHandler
	OptimizeHandler *handlers.OptimizeHandler
	AllowOrigins    []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", cfg.HealthHandler.HealthCheck)

	api := router.Group("/api")
	{
		locations := api.Group("/locations")
		{
			locations.GET("/floors", cfg.LocationHandler.GetFloors)
			locations.GET("/areas", cfg.LocationHandler.GetAreas)
			locations.GET("/entities", cfg.LocationHandler.GetEntities)
			locations.GET("/search", cfg.LocationHandler.Search)
			locations.GET("/entities/:entityId/area", cfg.LocationHandler.GetAreaForEntity)
			locations.GET("/areas/:areaId/floor", cfg.LocationHandler.GetFloorForArea)
			locations.POST("/reload", cfg.LocationHandler.Reload)
		}
		api.POST("/optimize", cfg.OptimizeHandler.Optimize)
	}

	return router
}
