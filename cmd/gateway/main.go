package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"reelscript-gateway/internal/gateway"
	"reelscript-gateway/internal/mediaserver"
	"reelscript-gateway/internal/platform/config"
	"reelscript-gateway/internal/platform/logger"
	"reelscript-gateway/internal/platform/metrics"
	"reelscript-gateway/internal/supervisor"
)

const (
	defaultPort = 4005
	// The backend always listens on the gateway port plus this offset; the
	// pairing is static for the process lifetime.
	backendPortOffset = 1000

	videosDir = "data/videos"

	defaultBackendCmd = "python3 backend/main.py"
	defaultStaticDir  = "build"

	defaultHealthInterval    = time.Second
	defaultHealthMaxAttempts = 30
)

func main() {
	_ = config.Load()

	port := config.GetEnvInt("PORT", defaultPort)
	backendCmd := config.GetEnv("BACKEND_CMD", defaultBackendCmd)
	staticDir := config.GetEnv("STATIC_DIR", defaultStaticDir)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	backendPort := port + backendPortOffset
	sup := supervisor.New(supervisor.Config{
		Command:     strings.Fields(backendCmd),
		Port:        backendPort,
		Interval:    config.GetEnvDuration("HEALTH_INTERVAL", defaultHealthInterval),
		MaxAttempts: config.GetEnvInt("HEALTH_MAX_ATTEMPTS", defaultHealthMaxAttempts),
		Log:         log,
	})

	if err := sup.Start(); err != nil {
		log.Error("backend launch failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := sup.AwaitReady(context.Background()); err != nil {
		log.Error("backend never became ready", slog.String("error", err.Error()))
		sup.Shutdown()
		os.Exit(1)
	}

	met := metrics.New()
	met.SetBackendUp(true)

	backendURL, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", backendPort))
	if err != nil {
		log.Error("bad backend url", slog.String("error", err.Error()))
		sup.Shutdown()
		os.Exit(1)
	}

	handler := gateway.NewRouter(gateway.Config{
		Backend: backendURL,
		Videos:  mediaserver.New(videosDir, log, met),
		Static:  gateway.NewStaticShell(staticDir),
		Log:     log,
		Metrics: met,
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
			sup.Shutdown()
			os.Exit(1)
		}
	}()

	log.Info("gateway serving",
		slog.Int("port", port),
		slog.Int("backend_port", backendPort),
		slog.String("videos_dir", videosDir),
		slog.String("static_dir", staticDir),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
		sup.Shutdown()
		srv.Close()
		log.Info("gateway stopped")
	case err := <-sup.Exited():
		// Backend death is fatal: there is no state to resynchronize after
		// a silent restart, so the whole gateway goes down with it.
		met.SetBackendUp(false)
		if err != nil {
			log.Error("backend exited", slog.String("error", err.Error()))
		} else {
			log.Error("backend exited cleanly while gateway was serving")
		}
		srv.Close()
		os.Exit(1)
	}
}
