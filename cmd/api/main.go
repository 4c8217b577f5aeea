package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-assist-go/internal/api"
	"call-assist-go/internal/config"
	"call-assist-go/internal/logger"
	"call-assist-go/internal/matcher"
	"call-assist-go/internal/pipeline"
	"call-assist-go/internal/provider"
	"call-assist-go/internal/results"
	"call-assist-go/internal/submissions"
	"call-assist-go/internal/telephony"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().WithError(err).Fatal("failed to load configuration")
	}

	log := logger.NewWithOptions(logger.Options{Environment: cfg.Environment, Level: cfg.LogLevel})
	log.WithField("service", "call-assist-go").WithField("provider", cfg.Provider).Info("starting service")

	providers, err := provider.DefaultRegistry().BuildAll(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build providers")
	}

	store := submissions.NewStore(cfg.SubmissionsPath, log)
	// warm the store so a broken file shows up at boot
	if recs, err := store.Load(); err != nil {
		log.WithError(err).WithField("path", cfg.SubmissionsPath).Error("failed to load submissions")
	} else {
		log.WithField("path", cfg.SubmissionsPath).WithField("records", len(recs)).Info("submissions loaded")
	}

	orch := pipeline.New(cfg, providers, matcher.New(store, log), log)

	callResults, closeResults, err := results.New(cfg.Results)
	if err != nil {
		log.WithError(err).Fatal("failed to create results store")
	}
	defer func() {
		if err := closeResults(); err != nil {
			log.WithError(err).Warn("closing results store")
		}
	}()
	log.WithField("backend", cfg.Results.Backend).Info("results store ready")

	tel := telephony.NewClient(cfg.Telephony, log)
	handler := api.NewServer(cfg, orch, tel, callResults, log).Routes()

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // recording callbacks run the whole pipeline
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
