// Command rtwatch connects to the dashboard realtime endpoint, prints the
// messages it receives and optionally records them to PostgreSQL.
//
// Usage:
//
//	rtwatch --config configs/rtwatch.yaml [--verbose]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/opsdeck/realtime/internal/buffer"
	"github.com/opsdeck/realtime/internal/config"
	"github.com/opsdeck/realtime/internal/connection"
	"github.com/opsdeck/realtime/internal/database"
	"github.com/opsdeck/realtime/internal/logging"
	"github.com/opsdeck/realtime/internal/message"
	"github.com/opsdeck/realtime/internal/metrics"
	"github.com/opsdeck/realtime/internal/recorder"
	"github.com/opsdeck/realtime/internal/version"
)

const (
	outputBufferSize = 10000
	statsInterval    = 10 * time.Second
	shutdownTimeout  = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/rtwatch.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full message envelopes")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Messages go to stdout, logs to stderr
	logger := logging.Init(os.Stderr, cfg.Logging.Level, cfg.Logging.Format).
		With("instance_id", cfg.Instance.ID)

	logger.Info("starting rtwatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"url", cfg.Realtime.URL,
	)

	if err := run(cfg, *verbose, logger); err != nil {
		logger.Error("rtwatch failed", "error", err)
		os.Exit(1)
	}
	logger.Info("rtwatch stopped")
}

func run(cfg *config.Config, verbose bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	connCfg := cfg.Realtime.ConnectionConfig()
	if connCfg.Header == nil {
		connCfg.Header = http.Header{}
	}
	if connCfg.Header.Get("User-Agent") == "" {
		connCfg.Header.Set("User-Agent", version.UserAgent())
	}

	opts := []connection.Option{connection.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		channels := append(append([]string{}, cfg.Subscriptions...), cfg.Recorder.Channels...)
		opts = append(opts, connection.WithObserver(metrics.NewTransportMetrics(reg, channels...)))
	}

	client, err := connection.Instance(connCfg, opts...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Disconnect()
	ctx = connection.WithClient(ctx, client)

	unwatch := client.WatchState(func(st connection.Status) {
		logger.Info("connection state changed",
			"state", st.State,
			"reconnect_attempts", st.ReconnectAttempts,
			"queued", st.QueuedMessages,
		)
	})
	defer unwatch()

	// Handlers run on the read goroutine; printing happens elsewhere.
	out := buffer.New[message.Message](256, outputBufferSize)
	for _, ch := range cfg.Subscriptions {
		if _, err := client.SubscribeMessage(ch, func(m message.Message) {
			if out.PushBack(m) {
				logger.Warn("output buffer full, dropped oldest message", "channel", m.Type)
			}
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
	}

	rec, closeDB, err := startRecorder(ctx, cfg, client, reg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return printLoop(os.Stdout, out, verbose)
	})
	g.Go(func() error {
		<-gctx.Done()
		out.Close()
		return nil
	})
	g.Go(func() error {
		statsLoop(gctx, rec, logger)
		return nil
	})

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           newMux(cfg.Metrics.Path, reg, client),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("watching", "channels", cfg.Subscriptions, "recording", rec != nil)

	runErr := g.Wait()

	logger.Info("shutting down...")

	// Recorder first so its final flush sees every delivered message
	if rec != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rec.Stop(shutdownCtx); err != nil {
			logger.Error("recorder stop failed", "error", err)
		}
	}
	client.Disconnect()

	return runErr
}

// startRecorder connects to the database and starts the recorder when it is
// enabled. The returned func closes the pool and is always safe to call.
func startRecorder(ctx context.Context, cfg *config.Config, client *connection.Client, reg prometheus.Registerer, logger *slog.Logger) (*recorder.Recorder, func(), error) {
	if !cfg.Recorder.Enabled {
		return nil, func() {}, nil
	}

	pool, err := database.Connect(ctx, cfg.Database, cfg.Instance.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	if err := recorder.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	recOpts := []recorder.Option{recorder.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		recOpts = append(recOpts, recorder.WithMetrics(metrics.NewRecorderMetrics(reg)))
	}

	rec := recorder.New(recorder.Config{
		Channels:      cfg.Recorder.Channels,
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
		BufferSize:    cfg.Recorder.BufferSize,
		Source:        cfg.Instance.ID,
	}, pool, recOpts...)

	// Not cancelled by the signal; Stop bounds the shutdown
	if err := rec.Start(context.WithoutCancel(ctx), client); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("start recorder: %w", err)
	}
	return rec, pool.Close, nil
}

// statsLoop logs client and recorder status until ctx is cancelled.
func statsLoop(ctx context.Context, rec *recorder.Recorder, logger *slog.Logger) {
	client, ok := connection.FromContext(ctx)
	if !ok {
		return
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := client.Status()
			attrs := []any{
				"state", st.State,
				"reconnect_attempts", st.ReconnectAttempts,
				"queued", st.QueuedMessages,
				"subscriptions", st.Subscriptions,
			}
			if !st.LastHeartbeat.IsZero() {
				attrs = append(attrs, "last_heartbeat", time.Since(st.LastHeartbeat).Round(time.Millisecond))
			}
			if rec != nil {
				rs := rec.Stats()
				attrs = append(attrs,
					"recorded", rs.Inserted,
					"duplicates", rs.Duplicates,
					"record_errors", rs.Errors,
				)
			}
			logger.Info("stats", attrs...)
		}
	}
}
