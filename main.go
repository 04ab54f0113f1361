package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbvcollective/Kozi-sub000/config"
	"github.com/jbvcollective/Kozi-sub000/utils"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()
	logger.SetDebug(cfg.Debug)

	rootCmd := &cobra.Command{
		Use:   "listingsync",
		Short: "Sync IDX/VOW listing feeds and compute market analytics",
		Long: `listingsync pages through the public (IDX) and restricted (VOW) listing
feeds, merges them per listing, curates photos and upserts the result.
Each sync batch resumes from the persisted cursor.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(syncCmd(cfg, logger))
	rootCmd.AddCommand(analyticsCmd(cfg, logger))
	rootCmd.AddCommand(cursorCmd(cfg, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
