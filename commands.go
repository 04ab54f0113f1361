package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbvcollective/Kozi-sub000/config"
	"github.com/jbvcollective/Kozi-sub000/feed"
	"github.com/jbvcollective/Kozi-sub000/pipeline"
	"github.com/jbvcollective/Kozi-sub000/services"
	"github.com/jbvcollective/Kozi-sub000/storage"
	"github.com/jbvcollective/Kozi-sub000/utils"
)

func syncCmd(cfg *config.Config, logger *utils.Logger) *cobra.Command {
	var (
		batches int
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run sync batches from the saved cursor",
		Long: `Run up to --batches sync batches. Each batch fetches one page from both
feeds at the saved offset and advances the cursor; the loop stops early
once the sweep wraps back to offset 0.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				sink    storage.ListingSink
				cursors storage.CursorStore
			)
			if dryRun {
				logger.Warn("Dry run: rows and cursor are kept in memory only")
				sink, cursors = storage.NewMemorySink(), storage.NewMemoryCursorStore()
			} else {
				pg, err := storage.NewPostgresSink(ctx, cfg.DSN())
				if err != nil {
					logger.Error("Failed to connect to PostgreSQL: %v", err)
					return err
				}
				defer pg.Close()
				sink = pg

				store, closeStore, err := openCursorStore(cfg, pg)
				if err != nil {
					return err
				}
				defer closeStore()
				cursors = store
			}

			public := feed.New(feedOptions(cfg, cfg.Public, 0), logger)
			var restricted pipeline.Feed
			if cfg.Restricted.Token != "" {
				restricted = feed.New(feedOptions(cfg, cfg.Restricted, cfg.Retries5xx), logger)
			} else {
				logger.Warn("VOW_TOKEN not set, syncing the public feed only")
			}

			logger.Info("=== Listing sync starting ===")
			logger.Info("Config: page size %d | batch size %d | key delay %v | timeout %v | cursor %s (%s)",
				cfg.PageSize, cfg.BatchSize, cfg.KeyDelay, cfg.RequestTimeout, cfg.CursorName, cfg.CursorStore)

			orch := pipeline.New(public, restricted, sink, pipeline.OptionsFromConfig(cfg), logger)
			runner := pipeline.NewRunner(orch, cursors, cfg.CursorName, logger)

			reports, err := runner.Run(ctx, batches)
			written, failed, mediaFailures := pipeline.Summary(reports)
			logger.Info("Done: %d batches, %d rows written, %d rows failed, %d media failures",
				len(reports), written, len(failed), mediaFailures)
			if len(failed) > 0 {
				logger.Warn("Failed identities: %v", failed)
			}
			return err
		},
	}

	cmd.Flags().IntVar(&batches, "batches", 1, "maximum number of batches to run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "keep rows and cursor in memory instead of PostgreSQL")
	return cmd
}

func analyticsCmd(cfg *config.Config, logger *utils.Logger) *cobra.Command {
	var csvPath string

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Recompute market analytics from all synced listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pg, err := storage.NewPostgresSink(ctx, cfg.DSN())
			if err != nil {
				logger.Error("Failed to connect to PostgreSQL: %v", err)
				return err
			}
			defer pg.Close()

			rows, err := pg.FetchAll(ctx)
			if err != nil {
				return err
			}
			logger.Info("Loaded %d listing rows", len(rows))

			svc := services.NewAnalyticsService(config.DefaultFieldMap(), logger)
			result := svc.Recompute(rows, time.Now())

			if err := pg.WriteAnalytics(ctx, result); err != nil {
				logger.Error("Writing analytics failed: %v", err)
				return err
			}
			svc.Print(os.Stdout, result)

			if csvPath == "" {
				return nil
			}
			w, err := storage.NewCSVWriter(csvPath)
			if err != nil {
				return err
			}
			defer w.Close()
			if err := w.WriteAreaHealth(result.AreaHealth); err != nil {
				return err
			}
			logger.Info("Area health saved to %s", csvPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "also export area health rows to this CSV file")
	return cmd
}

func cursorCmd(cfg *config.Config, logger *utils.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset the sync cursor",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the saved offset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCursorStore(cmd.Context(), cfg, func(store storage.CursorStore) error {
				offset, err := store.Load(cmd.Context(), cfg.CursorName)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d\n", cfg.CursorName, offset)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restart the sweep at offset 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCursorStore(cmd.Context(), cfg, func(store storage.CursorStore) error {
				if err := store.Save(cmd.Context(), cfg.CursorName, 0); err != nil {
					return err
				}
				logger.Info("Cursor %s reset to 0", cfg.CursorName)
				return nil
			})
		},
	})

	return cmd
}

func feedOptions(cfg *config.Config, fc config.FeedConfig, retries5xx int) feed.Options {
	return feed.Options{
		Name:        fc.Name,
		PropertyURL: fc.PropertyURL,
		MediaURL:    fc.MediaURL,
		Token:       fc.Token,
		Timeout:     cfg.RequestTimeout,
		Retries5xx:  retries5xx,
	}
}

// openCursorStore picks the cursor backend. pg may be nil unless
// CURSOR_STORE=postgres.
func openCursorStore(cfg *config.Config, pg *storage.PostgresSink) (storage.CursorStore, func(), error) {
	switch cfg.CursorStore {
	case "postgres":
		if pg == nil {
			return nil, nil, fmt.Errorf("cursor store postgres needs a database connection")
		}
		return pg, func() {}, nil
	case "memory":
		return storage.NewMemoryCursorStore(), func() {}, nil
	case "sqlite", "":
		s, err := storage.OpenSQLiteCursorStore(cfg.CursorDBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown CURSOR_STORE %q (want sqlite, postgres or memory)", cfg.CursorStore)
}

func withCursorStore(ctx context.Context, cfg *config.Config, fn func(storage.CursorStore) error) error {
	var pg *storage.PostgresSink
	if cfg.CursorStore == "postgres" {
		var err error
		if pg, err = storage.NewPostgresSink(ctx, cfg.DSN()); err != nil {
			return err
		}
		defer pg.Close()
	}

	store, closeStore, err := openCursorStore(cfg, pg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(store)
}
