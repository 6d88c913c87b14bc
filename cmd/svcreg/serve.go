package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/youthservices/svcreg/internal/deduplication"
	"github.com/youthservices/svcreg/internal/monitoring"
	"github.com/youthservices/svcreg/internal/quality"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run periodic sweeps and quality reports and expose /metrics",
	Long: `Run the registry maintenance loops until interrupted:

  - a duplicate sweep every serve.sweep_interval
  - a quality analysis and annotation every serve.quality_interval

Prometheus metrics are served on serve.addr at /metrics. Stored runs within
serve.replay_window are replayed at startup so alert counters reflect recent history.

Examples:
  svcreg serve
  svcreg serve --addr :9100 --sweep-interval 30m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if v, _ := flags.GetString("addr"); v != "" {
			rt.cfg.Serve.Addr = v
		}
		if flags.Changed("sweep-interval") {
			rt.cfg.Serve.SweepInterval, _ = flags.GetDuration("sweep-interval")
		}
		if flags.Changed("quality-interval") {
			rt.cfg.Serve.QualityInterval, _ = flags.GetDuration("quality-interval")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	cfg := rt.cfg.Serve
	logger := rt.logger.Named("serve")

	engine, err := deduplication.NewEngine(rt.store, rt.cfg.Dedup, rt.logger, rt.metrics)
	if err != nil {
		return err
	}
	analyzer, err := quality.NewAnalyzer(rt.store, rt.cfg.Quality, rt.logger, rt.metrics)
	if err != nil {
		return err
	}
	monitor, err := monitoring.NewMonitor(rt.store, rt.cfg.Monitor, rt.logger, rt.metrics)
	if err != nil {
		return err
	}

	if err := rt.store.Ping(ctx); err != nil {
		return fmt.Errorf("store not reachable: %w", err)
	}
	if cfg.ReplayWindow > 0 {
		n, err := monitor.Replay(ctx, time.Now().Add(-cfg.ReplayWindow))
		if err != nil {
			logger.Warn("failed to replay runs", zap.Error(err))
		} else {
			logger.Info("replayed runs", zap.Int("alerts", n), zap.Duration("window", cfg.ReplayWindow))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.store.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Sweeps and quality passes share the single sqlite connection and never overlap.
	var mu sync.Mutex

	if cfg.Addr != "" {
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return every(gctx, cfg.SweepInterval, serialized(&mu, func(ctx context.Context) {
			res, err := engine.Sweep(ctx, deduplication.SweepOptions{})
			if err != nil {
				logger.Warn("sweep failed", zap.Error(err))
				return
			}
			logger.Info("sweep complete",
				zap.Int("groups", len(res.Groups)),
				zap.Int("merged", res.Merged),
				zap.Int("failed", res.Failed))
		}))
	})

	g.Go(func() error {
		return every(gctx, cfg.QualityInterval, serialized(&mu, func(ctx context.Context) {
			if _, err := analyzer.Annotate(ctx); err != nil {
				logger.Warn("annotate failed", zap.Error(err))
			}
			if _, err := analyzer.Analyze(ctx); err != nil {
				logger.Warn("quality analysis failed", zap.Error(err))
			}
		}))
	})

	err = g.Wait()
	logger.Info("shut down")
	return err
}

// every runs fn immediately and then on each tick until ctx is done. A zero
// interval disables the loop.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// serialized wraps fn so that it never runs concurrently with any other function
// wrapped with the same mutex.
func serialized(mu *sync.Mutex, fn func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		mu.Lock()
		defer mu.Unlock()
		fn(ctx)
	}
}

func init() {
	serveCmd.Flags().String("addr", "", "metrics listen address (default from config)")
	serveCmd.Flags().Duration("sweep-interval", 0, "interval between duplicate sweeps (0 disables)")
	serveCmd.Flags().Duration("quality-interval", 0, "interval between quality reports (0 disables)")
	rootCmd.AddCommand(serveCmd)
}
