package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/tastythames/hpc-jobwatch/internal/metrics"
	"github.com/tastythames/hpc-jobwatch/internal/prompt"
	"github.com/tastythames/hpc-jobwatch/internal/scheduler"
	"github.com/tastythames/hpc-jobwatch/internal/server"
)

func newServeCmd() *cobra.Command {
	var jitter time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the polling service with its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info().
				Str("listen", cfg.Listen).
				Str("inventory", cfg.InventoryFile).
				Int("workers", cfg.Workers).
				Msg("config")

			hub := prompt.NewHub(logger)
			app, err := newCore(hub)
			if err != nil {
				return err
			}
			app.poller.OnFinish = func(w *scheduler.Watch, rt int) {
				logger.Info().Str("key", w.Key()).Int("rt", rt).Str("jobStatus", w.Task.JobStatus).Msg("watch finished")
			}

			jobCh := make(chan *scheduler.Watch, 100)
			sched := scheduler.NewScheduler(scheduler.Options{
				Jitter: jitter,
				JobCh:  jobCh,
				Logger: logger,
			})
			app.poller.Guard = sched
			for i := 0; i < cfg.Workers; i++ {
				go scheduler.StartWorker(ctx, i, jobCh, sched, app.poller)
			}

			if cfg.WatchFile != "" {
				watches, err := scheduler.LoadWatches(cfg.WatchFile)
				if err != nil {
					return fmt.Errorf("load watches: %w", err)
				}
				for _, w := range watches {
					sched.Add(w)
				}
				logger.Info().Int("watches", len(watches)).Msg("watches loaded")
			}
			go sched.Run(ctx)
			go app.cache.RunExpiry(ctx, time.Minute, cfg.FinishedRetention)

			gin.SetMode(gin.ReleaseMode)
			srv := server.NewServer(server.Deps{
				Hub:      hub,
				Metrics:  metrics.NewRenderer(app.cache, app.registry, sched),
				Watches:  sched,
				Projects: app.registry,
				Cache:    app.cache,
				Log:      logger,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(cfg.Listen) }()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("listen: %w", err)
				}
			case <-ctx.Done():
			}
			logger.Info().Msg("shutdown...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().DurationVar(&jitter, "jitter", 2*time.Second, "Random delay added to each scheduling cycle")
	return cmd
}
