package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	genesis "rentescrow/config"
	"rentescrow/core/events"
	"rentescrow/gateway/middleware"
	"rentescrow/native/bank"
	"rentescrow/native/rentescrow"
	"rentescrow/native/reputation"
	"rentescrow/observability/logging"
	"rentescrow/observability/metrics"
	telemetry "rentescrow/observability/otel"
	"rentescrow/services/rentescrow/server"
	"rentescrow/services/rentescrowd/config"
)

const serviceName = "rentescrowd"

var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/rentescrowd/config.yaml", "path to rentescrowd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		log.Fatalf("rentescrowd: %v", err)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(cfg.Logging.Env)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("RENTESCROW_ENV"))
	}
	logCfg := logging.Config{Service: serviceName, Env: env, Level: cfg.Logging.Level}
	if cfg.Logging.File.Path != "" {
		logCfg.File = &logging.FileConfig{
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
			Compress:   cfg.Logging.File.Compress,
		}
	}
	logger := logging.Setup(logCfg)

	endpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	headers := cfg.Telemetry.Headers
	if len(headers) == 0 {
		headers = telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    env,
		Endpoint:       endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        headers,
		Traces:         cfg.Telemetry.Traces,
		Metrics:        cfg.Telemetry.Metrics,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	ledger := bank.NewLedger(cfg.Vault())
	svc := reputation.NewService()
	if cfg.GenesisPath != "" {
		g, err := genesis.LoadGenesis(cfg.GenesisPath)
		if err != nil {
			return err
		}
		if err := g.Apply(ledger, svc); err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
		logger.Info("genesis applied", "path", cfg.GenesisPath, "accounts", len(g.Accounts), "agreements", len(g.Agreements))
	}

	recorder := events.NewRecorder(cfg.EventHistory)
	registry := rentescrow.NewRegistry()
	registry.SetLogger(logger)
	registry.SetCustody(ledger)
	registry.SetScoring(svc.Scoring())
	registry.SetEmitter(events.Multi{recorder, svc})

	srv := server.New(server.Config{
		ServiceName: serviceName,
		Registry:    registry,
		Ledger:      ledger,
		Reputation:  svc,
		Recorder:    recorder,
		Auth: middleware.AuthConfig{
			HMACSecret: cfg.Auth.Secret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		LogRequests: true,
		Logger:      logger,
		Metrics:     metrics.RentEscrow(),
		Registerer:  prometheus.DefaultRegisterer,
		Gatherer:    prometheus.DefaultGatherer,
	})

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure && cfg.TLS.CertPath == "" {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			_ = listener.Close()
			return errors.New("plaintext mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("rentescrowd listening", "address", cfg.ListenAddress, "tls", cfg.TLS.CertPath != "")
		if cfg.TLS.CertPath != "" {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
	}
	return nil
}
