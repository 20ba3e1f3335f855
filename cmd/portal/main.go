package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/liftops-portal/internal/application/alert"
	"github.com/liftops-portal/internal/application/notification"
	"github.com/liftops-portal/internal/config"
	"github.com/liftops-portal/internal/domain"
	"github.com/liftops-portal/internal/infrastructure/dynamo"
	jwtinfra "github.com/liftops-portal/internal/infrastructure/jwt"
	"github.com/liftops-portal/internal/infrastructure/mq"
	"github.com/liftops-portal/internal/infrastructure/postgres"
	redisinfra "github.com/liftops-portal/internal/infrastructure/redis"
	"github.com/liftops-portal/internal/pkg/logger"
	transporthttp "github.com/liftops-portal/internal/transport/http"
	"github.com/liftops-portal/internal/transport/http/handler"
	"go.uber.org/zap"
)

// backend is everything the sessions need from infrastructure, plus the
// cleanup to run on shutdown.
type backend struct {
	remote  notification.Remote
	stream  notification.EventStream
	checks  map[string]handler.Checker
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.AppEnv)
	defer func() { _ = log.Sync() }()
	if envErr != nil {
		log.Info("no .env file found, reading from environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := buildBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("backend setup failed", zap.Error(err))
	}
	defer be.close()

	provider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatal("jwt provider not available", zap.Error(err))
	}

	syncCfg := syncConfig(cfg)
	alertCfg := alertConfig(cfg)
	sessions := transporthttp.NewSessionRegistry(func(ownerID string) notification.Service {
		l := logger.ForOwner(log, ownerID)
		return notification.NewService(notification.ServiceDeps{
			Remote: be.remote,
			Stream: be.stream,
			Alerts: alert.NewService(alertCfg, l),
			Config: syncCfg,
			Logger: l,
		})
	}, cfg.SessionIdleTimeout, log)
	defer sessions.Close()
	go sessions.Run(ctx)

	router := transporthttp.NewRouter(ctx, cfg, &transporthttp.Deps{
		Sessions: sessions,
		Verifier: provider,
		Checks:   be.checks,
		Logger:   log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting",
			zap.String("port", cfg.AppPort),
			zap.String("env", cfg.AppEnv),
			zap.String("remote", cfg.RemoteBackend),
			zap.String("stream", cfg.StreamBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}

func syncConfig(cfg *config.Config) notification.Config {
	c := notification.DefaultConfig()
	c.PageSize = cfg.SyncPageSize
	c.MinLoadInterval = cfg.SyncMinLoadInterval
	c.FallbackPollInterval = cfg.SyncFallbackPoll
	c.ResyncDebounce = cfg.SyncResyncDebounce
	return c
}

func alertConfig(cfg *config.Config) alert.Config {
	return alert.Config{
		TTL: map[domain.AlertKind]time.Duration{
			domain.AlertSuccess: cfg.AlertTTLSuccess,
			domain.AlertError:   cfg.AlertTTLError,
			domain.AlertInfo:    cfg.AlertTTLInfo,
			domain.AlertWarning: cfg.AlertTTLWarning,
		},
		MaxVisible: cfg.AlertMaxVisible,
	}
}

// buildBackend wires the remote store and change stream selected by config.
// The dynamo store publishes change events itself and pairs with the amqp or
// redis stream; the postgres store emits them from a table trigger and pairs
// with the postgres stream only.
func buildBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *backend, err error) {
	be := &backend{checks: map[string]handler.Checker{}}
	defer func() {
		if err != nil {
			be.close()
		}
	}()
	var publisher dynamo.ChangePublisher

	if cfg.RemoteBackend == config.BackendPostgres && cfg.StreamBackend != config.StreamPostgres {
		return nil, fmt.Errorf("remote %q requires stream %q", cfg.RemoteBackend, config.StreamPostgres)
	}

	switch cfg.StreamBackend {
	case config.StreamAMQP:
		feed := mq.NewFeed(cfg.AMQPURL, log)
		be.stream = feed
		be.closers = append(be.closers, feed.Close)
		pub, err := mq.NewPublisher(cfg.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("amqp publisher: %w", err)
		}
		publisher = pub
		be.checks["amqp"] = func(context.Context) error {
			if !pub.IsConnected() {
				return errors.New("amqp connection closed")
			}
			return nil
		}
		be.closers = append(be.closers, pub.Close)
	case config.StreamRedis:
		rdb, err := redisinfra.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		be.stream = redisinfra.NewFeed(rdb, log)
		publisher = redisinfra.NewPublisher(rdb)
		be.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		be.closers = append(be.closers, func() { _ = rdb.Close() })
	case config.StreamPostgres:
		if cfg.RemoteBackend != config.BackendPostgres {
			return nil, fmt.Errorf("stream %q requires remote %q", cfg.StreamBackend, config.BackendPostgres)
		}
	default:
		return nil, fmt.Errorf("unknown stream backend %q", cfg.StreamBackend)
	}

	switch cfg.RemoteBackend {
	case config.BackendDynamo:
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: %w", err)
		}
		if cfg.DynamoBootstrap {
			dynamo.Bootstrap(ctx, client, cfg.DynamoTables, log)
		}
		settings := dynamo.NewSettingsRepo(client, cfg.DynamoTables.NotificationSettings)
		be.remote = dynamo.NewNotificationRepo(client, cfg.DynamoTables.Notifications, settings, publisher, log)
		be.checks["dynamodb"] = func(ctx context.Context) error {
			_, err := client.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
			return err
		}
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		be.closers = append(be.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		be.remote = postgres.NewNotificationRepo(pool, log)
		be.checks["postgres"] = pool.Ping
		if cfg.StreamBackend == config.StreamPostgres {
			be.stream = postgres.NewFeed(pool, log)
		}
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.RemoteBackend)
	}

	return be, nil
}
