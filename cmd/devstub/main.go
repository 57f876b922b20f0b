package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/volleylive/client-go/internal/devstub"
	vlog "github.com/volleylive/client-go/internal/log"
)

func main() {
	addr := flag.String("addr", ":8085", "HTTP listen address")
	level := flag.String("log-level", "debug", "log level (debug, info, warn, error)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 5*time.Second, "graceful shutdown timeout")
	flag.Parse()

	logger := vlog.New(*level)

	srv, err := devstub.NewServer(devstub.DefaultConfig(), devstub.DemoAccounts(), logger)
	if err != nil {
		log.Fatalf("failed to create stub server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", *addr).Msg("starting devstub backend")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatalf("server exited with error: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer cancel()

		logger.Info().Msg("shutting down devstub backend")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("shutdown failed: %v", err)
		}
		<-serverErr
	}

	logger.Info().Msg("devstub stopped")
}
