package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/fluxaster/FluxChat/internal/api"
	"github.com/fluxaster/FluxChat/internal/config"
	"github.com/fluxaster/FluxChat/internal/gateway"
	"github.com/fluxaster/FluxChat/internal/logger"
	"github.com/fluxaster/FluxChat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.SetLevel(cfg.Log.Level)

	gw := gateway.New(cfg.Upstream)
	handlers := api.NewHandler(store.New(), gw, cfg.Models)

	router := gin.Default()
	router.Use(api.RequestID())
	handlers.RegisterRoutes(router)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8000"
	}
	logger.L.Info("starting server", "address", addr, "models", cfg.Models)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
