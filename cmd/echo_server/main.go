package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klineKit/config"
	"klineKit/internal/bootstrap"
	"klineKit/internal/echo"
)

var addr = flag.String("addr", "", "listen address (default ECHO_ADDR)")

func main() {
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if *addr == "" {
		*addr = cfg.EchoAddr
	}

	// 2. Initialize Logger
	appLogger, err := bootstrap.Logger(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}

	// 3. Start the Server
	server, err := echo.New(echo.Config{Addr: *addr, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize echo server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		if err != nil {
			appLogger.Error(context.Background(), err, "Echo server exited with error")
			log.Fatalf("FATAL: Echo server exited with error: %v", err)
		}
	case s := <-sig:
		appLogger.Info(context.Background(), "Received signal, shutting down", map[string]interface{}{"signal": s.String()})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			appLogger.Error(ctx, err, "Echo server shutdown failure")
		}
	}
	appLogger.Info(context.Background(), "Goodbye")
}
