// matchbookd is the exchange server: it recovers the books from disk,
// opens the TCP listener and runs the background persistence and
// publishing jobs until signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"matchbook/config"
	"matchbook/engine"
	"matchbook/infra/feed"
	"matchbook/infra/store"
	"matchbook/infra/wal"
	"matchbook/jobs/broadcaster"
	"matchbook/pkg/util"
	"matchbook/service"
	"matchbook/transport"
)

func main() {
	var (
		configDir string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:          "matchbookd",
		Short:        "order matching exchange server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := zapcore.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("bad log level %q: %w", logLevel, err)
			}
			log, err := util.NewLogger(level)
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			return run(cfg, log)
		},
	}
	cmd.Flags().StringVar(&configDir, "config", "", "directory containing config.yaml")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	w, err := wal.Open(wal.Config{
		Dir:             cfg.WALDir(),
		SegmentSize:     cfg.SegmentSize,
		SegmentDuration: cfg.SegmentDuration,
	})
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	var st *store.Store
	if cfg.StoreEnabled {
		if st, err = store.Open(cfg.StoreDir()); err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
	}

	var fd *feed.Producer
	if cfg.Kafka.Enabled {
		fd = feed.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.FeedTopic)
		defer fd.Close()
	}

	eng := engine.New(engine.Config{
		Instruments:     cfg.Instruments,
		RejectSelfTrade: cfg.RejectSelfTrade,
		QueueDepth:      cfg.QueueDepth,
		EventBuffer:     cfg.EventBuffer,
	}, log)
	svc := service.New(eng, w, st, fd, service.Config{
		SnapshotDir: cfg.SnapshotDir(),
		// Without Kafka there is no broadcaster to drain the outbox.
		OutboxEnabled: cfg.Kafka.Enabled,
	}, log)

	eng.Start()
	if err := svc.Recover(); err != nil {
		eng.Stop()
		return err
	}
	svc.StartJobs(cfg.SyncInterval, cfg.TickInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Kafka.Enabled && st != nil {
		bc, err := broadcaster.New(st, cfg.Kafka.Brokers, cfg.Kafka.TradeTopic, log)
		if err != nil {
			log.Warn("trade broadcaster unavailable", zap.Error(err))
		} else {
			bc.Start(ctx)
			defer bc.Close()
		}
	}

	srv := transport.NewServer(transport.Config{Addr: cfg.ListenAddr}, eng, log)
	if err := srv.Start(); err != nil {
		eng.Stop()
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("shutting down", zap.String("signal", s.String()))

	// Quiesce first, then checkpoint so the snapshot covers everything.
	srv.Stop()
	if err := svc.Checkpoint(context.Background()); err != nil {
		log.Error("final checkpoint failed", zap.Error(err))
	}
	if err := svc.Close(); err != nil {
		log.Error("journal close failed", zap.Error(err))
	}
	eng.Stop()
	return nil
}
