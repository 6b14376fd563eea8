package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobmate/applier-service/internal/scoring"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Fold accumulated feedback into a new scoring model version",
	Run: func(_ *cobra.Command, _ []string) {
		retrain()
	},
}

func init() {
	rootCmd.AddCommand(retrainCmd)
}

func retrain() {
	ctx := context.Background()

	d, err := build(ctx)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer d.Close()

	mv, err := scoring.NewRetrainer(d.versions, d.tracker, d.logger).Retrain(ctx)
	if err != nil {
		d.logger.Fatal("retrain failed", zap.Error(err))
	}

	d.logger.Info("current model",
		zap.Int("version", mv.Version),
		zap.Int("feedback_count", mv.FeedbackCount),
	)
}
