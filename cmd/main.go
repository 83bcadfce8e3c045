package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/voxhome/voxhome-backend/internal/clients/hass"
	redisclient "github.com/voxhome/voxhome-backend/internal/clients/redis"
	"github.com/voxhome/voxhome-backend/internal/handlers"
	"github.com/voxhome/voxhome-backend/internal/observability"
	"github.com/voxhome/voxhome-backend/internal/platform/envutil"
	"github.com/voxhome/voxhome-backend/internal/platform/logger"
	"github.com/voxhome/voxhome-backend/internal/platform/openai"
	"github.com/voxhome/voxhome-backend/internal/server"
	"github.com/voxhome/voxhome-backend/internal/services"
)

func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	metrics := observability.New()

	// Directory provider (the home hub). Required.
	hubClient, err := hass.New(log)
	if err != nil {
		log.Fatal("hub client init failed", "error", err)
	}

	// Distributed cache. Optional: without it each instance loads from
	// the hub directly and cross-instance invalidation is disabled.
	var locCache services.LocationCache
	if cache, cacheErr := redisclient.NewLocationCache(log); cacheErr != nil {
		log.Warn("redis unavailable, running without distributed cache", "error", cacheErr)
	} else {
		locCache = cache
		defer cache.Close()
	}

	// Embedding provider. Optional: without it the semantic search tier
	// is disabled and matching is string-only.
	var embedder services.Embedder
	if aiClient, aiErr := openai.New(log); aiErr != nil {
		log.Warn("openai init failed, semantic matching disabled", "error", aiErr)
	} else if aiClient != nil {
		embedder = openai.NewEmbedder(aiClient)
	} else {
		log.Info("no OPENAI_API_KEY set, semantic matching disabled")
	}

	locCfg := services.DefaultEntityLocationConfig()
	locCfg.EmbedMatchThreshold = envutil.Float("LOCATION_EMBED_MATCH_THRESHOLD", locCfg.EmbedMatchThreshold)
	locCfg.FreshnessInterval = envutil.Duration("LOCATION_FRESHNESS_INTERVAL", locCfg.FreshnessInterval)

	locSvc := services.NewEntityLocationService(log, hubClient, locCache, embedder, metrics, locCfg)
	optSvc := services.NewSkillOptimizerService(log, metrics)

	initCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := locSvc.Initialize(initCtx); err != nil {
		log.Warn("initial snapshot load failed, serving empty until reload", "error", err)
	}
	cancel()

	router := server.NewRouter(server.RouterConfig{
		HealthHandler:   handlers.NewHealthHandler(metrics),
		LocationHandler: handlers.NewLocationHandler(log, locSvc),
		OptimizeHandler: handlers.NewOptimizeHandler(log, locSvc, optSvc, embedder),
		AllowOrigins:    []string{envutil.String("CORS_ORIGIN", "http://localhost:3000")},
	})

	port := envutil.String("HTTP_PORT", "8080")
	log.Info("starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("server exited", "error", err)
	}
}
