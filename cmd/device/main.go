package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngtfieldbus/trust-broker/internal/certutil"
	"github.com/ngtfieldbus/trust-broker/internal/config"
	"github.com/ngtfieldbus/trust-broker/internal/device"
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
		Short: "Start a Device parameter endpoint",
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

	cfg, err := config.LoadDevice(configPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	certificate, err := certutil.LoadCertificate(cfg.CertFile)
	if err != nil {
		logger.Fatal("cert load failed", zap.Error(err))
	}
	privateKey, arbiterPublicKey, err := loadDeviceKeys(cfg)
	if err != nil {
		logger.Fatal("key material load failed", zap.Error(err))
	}
	rootCAs, err := certutil.LoadRootCAPool(cfg.RootCaFile)
	if err != nil {
		logger.Fatal("root CA load failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics device.Metrics = device.NopMetrics{}
	if cfg.OtelEndpoint != "" {
		mp, err := telemetry.InitMeterProvider(ctx, "device", cfg.OtelEndpoint)
		if err != nil {
			logger.Error("otel init failed, continuing without metrics", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
			if m, err := telemetry.NewDeviceMetrics(); err != nil {
				logger.Error("otel counters init failed", zap.Error(err))
			} else {
				metrics = m
			}
		}
	}

	verifier := &token.Verifier{PublicKey: arbiterPublicKey, Device: cfg.Cid, Clock: token.SystemClock{}}
	handler := device.NewHandler(verifier, device.StubParameterStore{}, logger, metrics)

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

	go coap.Serve(ctx, coap.AcceptFunc(func(ctx context.Context) (coap.FrameConn, error) {
		return listener.Accept(ctx)
	}), handler, logger)

	port, err := listeningPort(listener.Addr().String())
	if err != nil {
		logger.Fatal("parse listener port", zap.Error(err))
	}

	registrationDtlsCfg := &dtls.Config{
		Certificate:      certificate,
		PrivateKey:       privateKey,
		RootCAs:          rootCAs,
		HandshakeTimeout: 5 * time.Second,
	}
	regCfg := device.RegistrationConfig{
		ArbiterAddr:  cfg.ArbiterAddr,
		DtlsConfig:   registrationDtlsCfg,
		Cid:          cfg.Cid,
		Label:        cfg.Label,
		Manufacturer: cfg.Manufacturer,
		Model:        cfg.Model,
		Port:         port,
		TTLSeconds:   cfg.RegistrationTTLSeconds,
	}
	if err := device.RegisterWithArbiter(ctx, regCfg, logger); err != nil {
		logger.Fatal("registration with arbiter failed", zap.Error(err))
	}

	var healthServer *health.Server
	if cfg.HealthAddr != "" {
		healthServer = health.NewServer(cfg.HealthAddr, func() bool { return true }, logger)
	}

	logger.Info("device started", zap.String("listen", listener.Addr().String()), zap.String("cid", cfg.Cid.String()))
	<-ctx.Done()
	logger.Info("device shutting down")
	if healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthServer.Shutdown(shutdownCtx)
	}
	return nil
}

// loadDeviceKeys returns the device's own signing key and the Arbiter's
// public key for token verification. When cfg.VaultSecretKey is set, both
// are read from the same Vault KV2 secret (a device's provisioning bundle
// carries its own key material alongside the Arbiter public key it should
// trust); otherwise each falls back to its configured file.
func loadDeviceKeys(cfg config.Device) (*ecdsa.PrivateKey, *ecdsa.PublicKey, error) {
	if cfg.VaultSecretKey != "" {
		mgr, ok, err := secrets.FromEnvironment()
		if err != nil {
			return nil, nil, fmt.Errorf("vault secrets: %w", err)
		}
		if ok {
			privatePEM, err := mgr.ECPrivateKeyPEM(cfg.VaultSecretKey)
			if err != nil {
				return nil, nil, err
			}
			privateKey, err := certutil.ParsePrivateKeyPEM(privatePEM)
			if err != nil {
				return nil, nil, err
			}
			publicPEM, err := mgr.ECPublicKeyPEM(cfg.VaultSecretKey)
			if err != nil {
				return nil, nil, err
			}
			arbiterPublicKey, err := certutil.ParsePublicKeyPEM(publicPEM)
			if err != nil {
				return nil, nil, err
			}
			return privateKey, arbiterPublicKey, nil
		}
	}

	privateKey, err := certutil.LoadPrivateKey(cfg.KeyFile)
	if err != nil {
		return nil, nil, err
	}
	arbiterPublicKey, err := certutil.LoadPublicKey(cfg.ArbiterPublicKeyFile)
	if err != nil {
		return nil, nil, err
	}
	return privateKey, arbiterPublicKey, nil
}

func listeningPort(addr string) (uint16, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("split host/port %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse port %q: %w", portStr, err)
	}
	return uint16(port), nil
}

func main() {
	root := &cobra.Command{
		Use:  "device [command]",
		Long: "Trust-broker Device: a parameter endpoint validating Arbiter-issued control tokens",
	}
	root.AddCommand(newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
