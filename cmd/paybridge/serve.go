package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/paybridge/internal/chain"
	"github.com/alfredjeanlab/paybridge/internal/config"
	"github.com/alfredjeanlab/paybridge/internal/events"
	"github.com/alfredjeanlab/paybridge/internal/idgen"
	"github.com/alfredjeanlab/paybridge/internal/metrics"
	"github.com/alfredjeanlab/paybridge/internal/payout"
	"github.com/alfredjeanlab/paybridge/internal/pipeline"
	"github.com/alfredjeanlab/paybridge/internal/proofs"
	"github.com/alfredjeanlab/paybridge/internal/reconcile"
	"github.com/alfredjeanlab/paybridge/internal/registry"
	"github.com/alfredjeanlab/paybridge/internal/server"
	"github.com/alfredjeanlab/paybridge/internal/store"
	"github.com/alfredjeanlab/paybridge/internal/store/postgres"
	paysync "github.com/alfredjeanlab/paybridge/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the paybridge daemon",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogFormat)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("database ready", "schema_version", st.SchemaVersion())

	m := metrics.New(prometheus.NewRegistry())

	host, _ := os.Hostname()
	nodeID, err := idgen.NodeID(host)
	if err != nil {
		return err
	}
	logger = logger.With("node", nodeID)

	// Import any proof artifacts that appeared while we were down.
	if n, err := proofs.Sync(ctx, st, cfg.ArtifactsDir, logger); err != nil {
		logger.Warn("proof sync failed", "dir", cfg.ArtifactsDir, "err", err)
	} else if n > 0 {
		logger.Info("recorded new proofs", "count", n)
	}

	var bus *events.NATSBus
	if cfg.NATSURL != "" {
		bus, err = events.NewNATSBus(cfg.NATSURL,
			nats.Name("paybridge-"+nodeID),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("nats reconnected")
			}),
		)
		if err != nil {
			return err
		}
		defer bus.Close()
		logger.Info("bus enabled", "nats_url", cfg.NATSURL)
	} else {
		logger.Info("bus disabled (PAYBRIDGE_NATS_URL not set)")
	}

	srv := server.New(st, nil, server.Options{
		Halted:       cfg.Halted(),
		ArtifactsDir: cfg.ArtifactsDir,
		Metrics:      m,
		Logger:       logger,
	})

	var publisher events.Publisher
	if bus != nil {
		publisher = bus
	}
	broadcaster := srv.NewBroadcaster(publisher, nodeID)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Halted() {
		logger.Warn("kill switch engaged: ledger watcher and submitter are not started")
	} else {
		pl, feed, closeLedger, err := buildPipeline(ctx, cfg, st, broadcaster, m, logger)
		if err != nil {
			return err
		}
		defer closeLedger()
		srv.SetPipeline(pl)
		g.Go(func() error { return pl.Run(gctx) })
		g.Go(func() error {
			err := feed.Run(gctx, pl.Events())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if bus != nil {
		relay := srv.NewRelay(bus, nodeID)
		g.Go(func() error { return relay.Run(gctx) })
	}

	grpcServer, healthServer := server.NewGRPCServer(cfg.Halted(), cfg.AuthToken, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if scheduler := buildScheduler(ctx, cfg, st, logger); scheduler != nil {
		g.Go(func() error { return scheduler.Run(gctx) })
		logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	}

	logger.Info("paybridge started",
		"grpc_addr", cfg.GRPCAddr,
		"http_addr", cfg.HTTPAddr,
		"mode", cfg.Mode,
	)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		healthServer.Shutdown()

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// buildPipeline wires the payout and reconcile stages to the ledger. The
// returned func closes the submitter's ledger connection.
func buildPipeline(ctx context.Context, cfg *config.Config, st store.Store, b pipeline.Broadcaster, m *metrics.Metrics, logger *slog.Logger) (*pipeline.Pipeline, *chain.Feed, func(), error) {
	if !common.IsHexAddress(cfg.PayrollAddress) {
		return nil, nil, nil, fmt.Errorf("PAYBRIDGE_PAYROLL_ADDRESS: invalid address %q", cfg.PayrollAddress)
	}
	contract := common.HexToAddress(cfg.PayrollAddress)

	from, err := pipeline.ResumeBlock(ctx, st, cfg.StartBlock)
	if err != nil {
		return nil, nil, nil, err
	}

	reg, err := registry.Open(cfg.RegistryPath, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("employee registry loaded", "path", cfg.RegistryPath, "entries", reg.Len())

	rail := payout.NewStripeRail(cfg.StripeKey, nil, cfg.PayoutRPS)
	payer := payout.NewProcessor(reg, rail, cfg.PayoutTimeout, logger)

	dial := chain.Dialer(cfg.RPCURL)
	client, err := dial(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dialing ledger: %w", err)
	}
	submitter, err := chain.NewSubmitter(ctx, client, cfg.OperatorKey, contract, logger)
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}
	logger.Info("ledger submitter ready", "operator", submitter.From().Hex())

	reconciler := reconcile.New(submitter, st, cfg.SubmitTimeout, cfg.ConfirmTimeout, logger)

	pl := pipeline.New(pipeline.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		USDRate:   cfg.USDRate,
		Retry:     store.DefaultRetryPolicy,
	}, st, payer, reconciler, b, m, logger)

	logger.Info("ledger feed position", "from_block", from, "configured", cfg.StartBlock)
	feed := chain.NewFeed(dial, contract, from, logger)
	return pl, feed, client.Close, nil
}

// buildScheduler returns nil when no export destination is configured.
func buildScheduler(ctx context.Context, cfg *config.Config, st store.Store, logger *slog.Logger) *paysync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []paysync.Destination
	if cfg.SyncS3Bucket != "" {
		d, err := paysync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("sync destination enabled", "dest", d.Name())
		}
	}
	if cfg.SyncGitRepo != "" {
		d := paysync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch)
		dests = append(dests, d)
		logger.Info("sync destination enabled", "dest", d.Name())
	}
	// The scheduler also re-scans the artifacts dir, so it runs even without
	// export destinations.
	return paysync.NewScheduler(st, dests, cfg.SyncInterval, cfg.ArtifactsDir, logger)
}
