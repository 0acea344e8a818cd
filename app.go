package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lead-Studios/veritix-backend-sub005/aws"
	"github.com/Lead-Studios/veritix-backend-sub005/config"
	"github.com/Lead-Studios/veritix-backend-sub005/database"
	"github.com/Lead-Studios/veritix-backend-sub005/kafka"
	"github.com/Lead-Studios/veritix-backend-sub005/logger"
	"github.com/Lead-Studios/veritix-backend-sub005/observability"
	"github.com/Lead-Studios/veritix-backend-sub005/repository"
	"github.com/Lead-Studios/veritix-backend-sub005/services"
	"github.com/Lead-Studios/veritix-backend-sub005/stellar"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *gorm.DB
	redis     *redis.Client
	awsCfg    *sdkaws.Config
	store     *repository.GormStore
	inventory *services.InventoryService
	notifier  services.Notifier
	metrics   *aws.MetricsClient
	stellar   *stellar.Client

	closers []func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	log := logger.Initialize(cfg.Env)
	a := &app{cfg: cfg, log: log}

	shutdownTracing, err := observability.SetupTracingSDK(ctx, cfg.OtelEndpoint, Version)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	a.onClose(shutdownTracing)

	if cfg.OtelEndpoint != "" {
		shutdownLogs, err := observability.SetupLoggingSDK(ctx, cfg.OtelEndpoint, Version)
		if err != nil {
			log.Warn("log export disabled", zap.Error(err))
		} else {
			a.onClose(shutdownLogs)
			log = observability.WithOTelLogs(log)
			logger.Log = log
			a.log = log
		}
	}

	db, err := database.Connect(cfg.DSN(), log)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.db = db
	a.onClose(func(context.Context) error { return database.Close(db) })
	a.store = repository.NewGormStore(db)
	a.inventory = services.NewInventoryService(a.store, log)

	if cfg.RedisURL != "" {
		rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.redis = rdb
		a.onClose(func(context.Context) error { return rdb.Close() })
	}

	if cfg.AWSEnabled {
		awsCfg, err := aws.LoadAWSConfig(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.awsCfg = &awsCfg
		a.metrics = aws.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	}

	var notifiers services.MultiNotifier
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic, log)
		a.onClose(func(context.Context) error { return producer.Close() })
		notifiers = append(notifiers, producer)
	}
	if cfg.OrderEventsSNSTopic != "" && a.awsCfg != nil {
		notifiers = append(notifiers, services.NewSNSNotifier(aws.NewSNSClient(*a.awsCfg), cfg.OrderEventsSNSTopic))
	}
	a.notifier = notifiers

	sc, err := stellar.NewClient(stellar.Config{
		Network:          cfg.StellarNetwork,
		HorizonURL:       cfg.HorizonURL,
		ReceivingAddress: cfg.PlatformReceivingAddress,
		SignerSecret:     cfg.PlatformSignerSecret,
	}, log)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.stellar = sc
	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = errors.Join(errs, a.closers[i](ctx))
	}
	a.closers = nil
	if errs != nil {
		a.log.Warn("shutdown finished with errors", zap.Error(errs))
	}
	_ = a.log.Sync()
}

func (a *app) orderService() (*services.OrderService, error) {
	memos, err := services.NewMemoGenerator()
	if err != nil {
		return nil, err
	}
	svc := services.NewOrderService(a.store, a.inventory, memos, config.EnvExpiryPolicy{},
		a.cfg.PlatformReceivingAddress, a.cfg.StellarNetwork, a.log.Named("orders"))
	svc.SetNotifier(a.notifier)
	if a.metrics != nil {
		svc.SetMetrics(a.metrics)
	}
	return svc, nil
}

func (a *app) expirySweeper() *services.ExpirySweeper {
	s := services.NewExpirySweeper(a.store, a.inventory, a.cfg.SweepInterval, a.cfg.SweepBatchSize, a.log.Named("sweeper"))
	s.SetNotifier(a.notifier)
	if a.metrics != nil {
		s.SetMetrics(a.metrics)
	}
	if a.redis != nil {
		s.SetLocker(services.NewRedisLocker(a.redis))
	}
	return s
}

func (a *app) paymentConsumer() (*services.PaymentConsumer, error) {
	cursors, err := a.cursorStore()
	if err != nil {
		return nil, err
	}
	c := services.NewPaymentConsumer(a.store, a.inventory, cursors, a.stellar, a.stellar, services.PaymentConsumerConfig{
		ReceivingAddress:     a.cfg.PlatformReceivingAddress,
		CursorKey:            a.cfg.CursorKey,
		StartCursor:          a.cfg.StreamStartCursor,
		MaxReconnectAttempts: a.cfg.MaxReconnectAttempts,
		InitialBackoff:       a.cfg.InitialBackoff,
	}, a.log.Named("payments"))
	c.SetNotifier(a.notifier)
	if a.metrics != nil {
		c.SetMetrics(a.metrics)
	}
	return c, nil
}

func (a *app) cursorStore() (repository.CursorRepository, error) {
	if a.cfg.CursorStore != "dynamodb" {
		return repository.NewGormCursorRepository(a.db), nil
	}
	if a.awsCfg == nil {
		return nil, errors.New("dynamodb cursor store needs AWS configuration")
	}
	return repository.NewDynamoCursorRepository(dynamodb.NewFromConfig(*a.awsCfg), a.cfg.CursorTable), nil
}

func (a *app) refundService() *services.RefundService {
	svc := services.NewRefundService(a.stellar, a.cfg.RefundRatePerSecond, a.cfg.RefundRetryDelay, a.log.Named("refunds"))
	if a.metrics != nil {
		svc.SetMetrics(a.metrics)
	}
	return svc
}
