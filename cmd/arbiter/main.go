package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngtfieldbus/trust-broker/internal/acl"
	"github.com/ngtfieldbus/trust-broker/internal/arbiter"
	"github.com/ngtfieldbus/trust-broker/internal/certutil"
	"github.com/ngtfieldbus/trust-broker/internal/config"
	"github.com/ngtfieldbus/trust-broker/internal/eventbus"
	"github.com/ngtfieldbus/trust-broker/internal/health"
	"github.com/ngtfieldbus/trust-broker/internal/secrets"
	"github.com/ngtfieldbus/trust-broker/internal/telemetry"
	"github.com/ngtfieldbus/trust-broker/internal/token"
	"github.com/ngtfieldbus/trust-broker/internal/transport/coap"
	"github.com/ngtfieldbus/trust-broker/internal/transport/dtls"
)

func newRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the Arbiter trust-broker process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.json", "path to config.json")
	return cmd
}

func run(configPath string) error {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadArbiter(configPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	privateKey, err := loadArbiterKey(cfg)
	if err != nil {
		logger.Fatal("private key load failed", zap.Error(err))
	}
	certificate, err := certutil.LoadCertificate(cfg.CertFile)
	if err != nil {
		logger.Fatal("cert load failed", zap.Error(err))
	}
	rootCAs, err := certutil.LoadRootCAPool(cfg.RootCaFile)
	if err != nil {
		logger.Fatal("root CA load failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics arbiter.Metrics = arbiter.NopMetrics{}
	if cfg.OtelEndpoint != "" {
		mp, err := telemetry.InitMeterProvider(ctx, "arbiter", cfg.OtelEndpoint)
		if err != nil {
			logger.Error("otel init failed, continuing without metrics", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
			if m, err := telemetry.NewArbiterMetrics(); err != nil {
				logger.Error("otel counters init failed", zap.Error(err))
			} else {
				metrics = m
			}
		}
	}

	var audit arbiter.AuditPublisher = arbiter.NopAuditPublisher{}
	if cfg.NatsURL != "" {
		publisher, err := eventbus.Connect(cfg.NatsURL, logger)
		if err != nil {
			logger.Error("eventbus connect failed, continuing without audit publishing", zap.Error(err))
		} else {
			defer publisher.Close()
			audit = publisher
		}
	}

	minter := &token.Minter{PrivateKey: privateKey, Issuer: cfg.Cid, Clock: token.SystemClock{}}
	aclDB := &acl.Database{Entries: cfg.ACL}
	registry := arbiter.NewRegistry(minter, aclDB, logger, metrics, audit)
	handler := arbiter.NewHandler(registry, logger)

	dtlsCfg := &dtls.Config{
		Certificate:      certificate,
		PrivateKey:       privateKey,
		RootCAs:          rootCAs,
		HandshakeTimeout: 5 * time.Second,
	}
	listener, err := dtls.Listen(cfg.ListenAddr, dtlsCfg, logger)
	if err != nil {
		logger.Fatal("dtls listen failed", zap.Error(err))
	}
	defer listener.Close()

	go registry.Run(ctx)
	go coap.Serve(ctx, coap.AcceptFunc(func(ctx context.Context) (coap.FrameConn, error) {
		return listener.Accept(ctx)
	}), handler, logger)

	var healthServer *health.Server
	if cfg.HealthAddr != "" {
		healthServer = health.NewServer(cfg.HealthAddr, func() bool { return true }, logger)
	}

	logger.Info("arbiter started", zap.String("listen", listener.Addr().String()))
	<-ctx.Done()
	logger.Info("arbiter shutting down")
	if healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthServer.Shutdown(shutdownCtx)
	}
	return nil
}

func loadArbiterKey(cfg config.Arbiter) (*ecdsa.PrivateKey, error) {
	if cfg.VaultSecretKey != "" {
		mgr, ok, err := secrets.FromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("vault secrets: %w", err)
		}
		if ok {
			pem, err := mgr.ECPrivateKeyPEM(cfg.VaultSecretKey)
			if err != nil {
				return nil, err
			}
			return certutil.ParsePrivateKeyPEM(pem)
		}
	}
	return certutil.LoadPrivateKey(cfg.KeyFile)
}

func main() {
	root := &cobra.Command{
		Use:  "arbiter [command]",
		Long: "Trust-broker Arbiter: device registry and control-token issuer",
	}
	root.AddCommand(newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
