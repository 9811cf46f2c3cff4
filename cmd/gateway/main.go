package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ardrey/translate-hub/internal/broker"
	"github.com/ardrey/translate-hub/internal/config"
	"github.com/ardrey/translate-hub/internal/dispatch"
	"github.com/ardrey/translate-hub/internal/gateway"
	"github.com/ardrey/translate-hub/internal/metrics"
	"github.com/ardrey/translate-hub/internal/notify"
	"github.com/ardrey/translate-hub/internal/relay"
	"github.com/ardrey/translate-hub/internal/room"
	"github.com/ardrey/translate-hub/internal/server"
	"github.com/ardrey/translate-hub/internal/session"
	"github.com/ardrey/translate-hub/internal/translator"
	"github.com/ardrey/translate-hub/internal/worker"
	"github.com/ardrey/translate-hub/pkg/logger"
	redispkg "github.com/ardrey/translate-hub/pkg/redis"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := redispkg.NewClient(redispkg.Config{
		Host:         cfg.RedisHost,
		Port:         cfg.RedisPort,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		MaxRetries:   cfg.RedisMaxRetries,
	}, log)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	amqpBroker := broker.NewAMQPBroker(cfg.AMQPURL(), log)
	if err := amqpBroker.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = amqpBroker.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	sessions := session.NewRegistry(session.NewRedisStore(redisClient), cfg.SessionTTL, log)
	rooms := room.NewManager(log)

	translators, defaultTranslator, err := buildTranslators(cfg)
	if err != nil {
		return err
	}
	log.Info("translators registered",
		zap.Strings("codes", translators.Codes()),
		zap.String("default", defaultTranslator))

	notifier := notify.NewTelegramNotifier(notify.TelegramConfig{BotToken: cfg.TelegramBotToken})
	capabilities := worker.NewCapabilities(translators, defaultTranslator, notifier)

	pool := worker.NewPool(amqpBroker, cfg.WorkQueue, cfg.ResultQueue, capabilities, cfg.WorkerCount, m, log)
	resultRelay := relay.NewRelay(amqpBroker, cfg.ResultQueue, rooms, m, log)
	dispatcher := dispatch.NewDispatcher(amqpBroker, cfg.WorkQueue, sessions, log)

	ws := gateway.New(gateway.Config{
		MaxConnections:    cfg.MaxConnections,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		RoomOpsEnabled:    cfg.RoomOpsEnabled,
	}, sessions, rooms, m, log)

	srv := server.New(net.JoinHostPort(cfg.AppHost, cfg.AppPort), server.Deps{
		Gateway:    ws,
		Relay:      resultRelay,
		Dispatcher: dispatcher,
		Rooms:      rooms,
		Registry:   registry,
		RedisHealthy: func() bool {
			return redisClient.IsAvailable(context.Background()) == nil
		},
		BrokerHealthy: amqpBroker.Healthy,
		Log:           log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return resultRelay.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	log.Info("gateway started",
		zap.String("addr", net.JoinHostPort(cfg.AppHost, cfg.AppPort)),
		zap.Int("workers", cfg.WorkerCount),
		zap.Int("max_connections", cfg.MaxConnections))

	if err := g.Wait(); err != nil && !isShutdown(err) {
		return err
	}
	log.Info("gateway stopped")
	return nil
}

func buildTranslators(cfg *config.Config) (*translator.Registry, string, error) {
	reg := translator.NewRegistry()
	for _, code := range cfg.AllowedTranslators {
		switch code {
		case "libre":
			reg.Register(code, translator.NewLibreProvider(translator.LibreConfig{
				Endpoint: cfg.LibreTranslateEndpoint,
				Timeout:  cfg.LibreTranslateTimeout,
			}))
		case "model":
			reg.Register(code, translator.NewModelProvider(translator.ModelConfig{
				Endpoint: cfg.ModelEndpoint,
				Timeout:  cfg.ModelTimeout,
			}))
		case "deepl":
			reg.Register(code, translator.NewDeepLProvider(translator.DeepLConfig{
				APIURL: cfg.DeepLAPIURL,
				APIKey: cfg.DeepLAPIKey,
			}))
		default:
			return nil, "", fmt.Errorf("unknown translator code %q in ALLOWED_TRANSLATORS", code)
		}
	}
	if len(cfg.AllowedTranslators) == 0 {
		return nil, "", fmt.Errorf("ALLOWED_TRANSLATORS must name at least one translator")
	}
	return reg, cfg.AllowedTranslators[0], nil
}

func isShutdown(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
