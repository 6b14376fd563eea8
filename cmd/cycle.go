package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCycleCmd = &cobra.Command{
	Use:   "run-cycle",
	Short: "Run a single matching and application cycle, then exit",
	Run: func(_ *cobra.Command, _ []string) {
		runCycle()
	},
}

func init() {
	rootCmd.AddCommand(runCycleCmd)
}

func runCycle() {
	ctx := context.Background()

	d, err := build(ctx)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer d.Close()

	stats, err := d.runner.Run(ctx)
	if err != nil {
		d.logger.Fatal("cycle failed", zap.Error(err))
	}

	d.logger.Info("cycle done",
		zap.String("cycle_id", stats.CycleID),
		zap.Int("users_processed", stats.UsersProcessed),
		zap.Int("submitted", stats.Submitted),
	)
}
