package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tomaslejdung/obscam/pkg/platform/config"
	"github.com/tomaslejdung/obscam/pkg/platform/logger"
	"github.com/tomaslejdung/obscam/pkg/platform/metrics"
	sig "github.com/tomaslejdung/obscam/pkg/signal"
	"github.com/tomaslejdung/obscam/pkg/spectate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := flag.Int("port", config.GetEnvInt("PORT", 3001), "Server port")
	flag.Parse()

	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	log := logger.New(logLevel, logFormat)

	cfg := appConfig{
		FeedToken:  config.GetEnv("GSI_AUTH_TOKEN", ""),
		RosterTTL:  config.GetEnvDuration("FEED_ROSTER_TTL", spectate.DefaultRosterTTL),
		SendBuffer: config.GetEnvInt("SEND_BUFFER", sig.DefaultSendBuffer),
	}

	a := newApp(cfg, metrics.New(), log)
	defer a.Close()

	addr := ":" + strconv.Itoa(*port)
	srv := &http.Server{Addr: addr, Handler: a.router}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("obscam signal server starting",
		"port", *port,
		"log_level", logLevel,
		"feed_token", cfg.FeedToken != "",
		"roster_ttl", cfg.RosterTTL,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
