package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/stage/internal/config"
	"github.com/kartikbazzad/bunbase/stage/internal/server"
	"github.com/kartikbazzad/bunbase/stage/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Config file path (yaml, json or toml); optional")
	addr := flag.String("addr", "", "Listen address, overrides server.addr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := logger.Init(cfg.Log)

	gin.SetMode(gin.ReleaseMode)
	srv, err := server.New(cfg, log, nil)
	if err != nil {
		log.Error("failed to initialize gateway", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}
