// Package userstate собирает HTTP-сервис учёта пользовательского
// состояния: хранилище, миграции, кеш каталога, издатель событий
// начисления и маршруты.
package userstate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/medassist/user-state/internal/cache"
	"github.com/medassist/user-state/internal/config"
	"github.com/medassist/user-state/internal/lib/jwt"
	"github.com/medassist/user-state/internal/lib/rabbitmq"
	"github.com/medassist/user-state/internal/lib/sl"
	"github.com/medassist/user-state/internal/migrations"
	billingservice "github.com/medassist/user-state/internal/services/billing"
	profileservice "github.com/medassist/user-state/internal/services/profile"
	quotaservice "github.com/medassist/user-state/internal/services/quota"
	"github.com/medassist/user-state/internal/storage"
)

// App инкапсулирует зависимости HTTP-сервиса.
type App struct {
	server   *http.Server
	logger   *slog.Logger
	db       *storage.Storage
	amqpConn *amqp.Connection
	amqpChan *amqp.Channel
}

// grantPublisher адаптирует канал RabbitMQ к интерфейсу издателя
// событий начисления сервиса биллинга.
type grantPublisher struct {
	ch *amqp.Channel
}

func (p *grantPublisher) Publish(event billingservice.GrantEvent) error {
	return rabbitmq.PublishMessage(p.ch, rabbitmq.GrantsExchange, rabbitmq.GrantsRoutingKey, event)
}

// New создаёт приложение: подключает хранилище, применяет миграции,
// инициализирует кеш и брокер, собирает сервисы и маршруты.
// Кеш и брокер опциональны: при недоступности сервис стартует без них.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	var catalogCache billingservice.Cache
	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		logger.Warn("redis unavailable, catalog cache disabled", sl.Err(err))
	} else {
		catalogCache = cacheRedis
	}

	var publisher billingservice.GrantPublisher
	var amqpConn *amqp.Connection
	var amqpChan *amqp.Channel
	if cfg.RabbitMQ.ConnectionString != "" {
		amqpConn, err = rabbitmq.Connect(cfg.RabbitMQ.ConnectionString,
			cfg.RabbitMQ.ConnectRetries, cfg.RabbitMQ.ConnectDelay)
		if err != nil {
			logger.Warn("rabbitmq unavailable, grant events disabled", sl.Err(err))
		} else {
			amqpChan, err = rabbitmq.SetupChannel(amqpConn)
			if err != nil {
				return nil, err
			}
			publisher = &grantPublisher{ch: amqpChan}
		}
	}

	profileService := profileservice.New(db, logger)
	quotaService := quotaservice.New(db, logger)
	billingService := billingservice.New(db, catalogCache, publisher, logger)

	jwtMaker := jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, jwtMaker, profileService, quotaService, billingService)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:   srv,
		logger:   logger,
		db:       db,
		amqpConn: amqpConn,
		amqpChan: amqpChan,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if a.amqpChan != nil {
			_ = a.amqpChan.Close()
		}
		if a.amqpConn != nil {
			_ = a.amqpConn.Close()
		}
		_ = a.db.Close()
		return err
	}
}
