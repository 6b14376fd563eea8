package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobmate/applier-service/internal/feedback"
	"jobmate/applier-service/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the applier service: cron-driven cycles, feed ingestion and the feedback API",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := build(ctx)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer d.Close()

	d.logger.Info("starting the applier service", zap.String("version", version))

	sched := scheduler.New(
		d.runner,
		d.fetcher,
		d.postings,
		d.cfg.CycleCron,
		d.cfg.FeedIntervalHours,
		time.Duration(d.cfg.PostingTTLDays)*24*time.Hour,
		d.logger,
	)
	if err := sched.Start(ctx); err != nil {
		d.logger.Fatal("starting scheduler", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	feedback.NewHandler(d.tracker, d.logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", d.cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		d.logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	d.logger.Info("shutting down")
	cancel() // stops new submissions; in-flight ones run to completion

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	d.logger.Info("stopped")
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": appName,
		"version": version,
	})
}
