package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/flowtrace/internal/collector"
	"github.com/ziadkadry99/flowtrace/internal/scheduler"
	"github.com/ziadkadry99/flowtrace/internal/server"
	"github.com/ziadkadry99/flowtrace/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest API, log tailer and scheduled retention",
	Long: `Starts the HTTP API that browser and desktop recorders post events to,
tails the configured bot logs, flushes collector buffers periodically and
applies the retention policy on schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		set, err := a.collectors()
		if err != nil {
			return fmt.Errorf("creating collectors: %w", err)
		}
		defer set.StopAll()

		sched := scheduler.New(scheduler.Real(), a.logger)
		err = sched.Add(scheduler.Task{
			Name:     "flush",
			Interval: a.cfg.Collector.FlushInterval,
			Run: func(ctx context.Context) error {
				set.FlushAll()
				return nil
			},
		})
		if err != nil {
			return err
		}
		if globs := a.cfg.Collector.LogGlobs; len(globs) > 0 {
			c, _ := set.Get(store.AppLog.Name())
			tailer := collector.NewLogTailer(globs, c, a.logger)
			if err := sched.Add(scheduler.Task{
				Name:      "log_tail",
				Interval:  a.cfg.Collector.TailInterval,
				Immediate: true,
				Run:       tailer.Poll,
			}); err != nil {
				return err
			}
		}
		if every := a.cfg.Schedule.RetentionInterval; every > 0 {
			if err := sched.Add(scheduler.Task{
				Name:     "retention",
				Interval: every,
				Run: func(ctx context.Context) error {
					_, err := a.pipeline.Retention.EnforceRetention(ctx)
					return err
				},
			}); err != nil {
				return err
			}
		}

		addr := a.cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := server.New(server.Config{
			Addr:           addr,
			AllowedOrigins: a.cfg.Server.AllowedOrigins,
		}, server.Deps{
			Collectors: set,
			Pipeline:   a.pipeline,
			Registry:   a.registry,
			Audit:      a.audit,
			Logger:     a.logger,
		})

		// Graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched.Start(ctx)
		defer sched.Stop()

		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		fmt.Fprintf(os.Stderr, "flowtrace %s serving on %s\n", Version, addr)
		fmt.Fprintf(os.Stderr, "  Data: %s\n", a.cfg.DataDir)
		fmt.Fprintf(os.Stderr, "  Collectors: %v\n", set.Names())
		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
