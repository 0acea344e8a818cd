package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Lead-Studios/veritix-backend-sub005/apperrors"
	"github.com/Lead-Studios/veritix-backend-sub005/controllers"
	"github.com/Lead-Studios/veritix-backend-sub005/logger"
	"github.com/Lead-Studios/veritix-backend-sub005/middleware"
	"github.com/Lead-Studios/veritix-backend-sub005/observability"
	"github.com/Lead-Studios/veritix-backend-sub005/routes"
	"github.com/Lead-Studios/veritix-backend-sub005/services"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var (
		noSweeper  bool
		noConsumer bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the expiry sweeper and the payment consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), !noSweeper, !noConsumer)
		},
	}

	cmd.Flags().BoolVar(&noSweeper, "no-sweeper", false, "do not run the expiry sweeper in this process")
	cmd.Flags().BoolVar(&noConsumer, "no-consumer", false, "do not run the payment stream consumer in this process")

	return cmd
}

func runServe(parent context.Context, withSweeper, withConsumer bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	log := a.log

	orderService, err := a.orderService()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	// the consumer stopping on its own must take the whole process down
	fatal := make(chan error, 2)

	if withSweeper {
		sweeper := a.expirySweeper()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Start(ctx)
		}()
	}

	var consumer *services.PaymentConsumer
	if withConsumer {
		consumer, err = a.paymentConsumer()
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				fatal <- err
			}
		}()
	}

	if a.cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestLogger())
	if len(a.cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(a.cfg.CORSOrigins))
	}
	if a.metrics != nil && a.metrics.IsEnabled() {
		r.Use(middleware.RequestMetrics(a.metrics, observability.ServiceName))
	}
	r.Use(middleware.RequestTimeout(30 * time.Second))
	r.Use(apperrors.ErrorMiddleware())

	checks := map[string]controllers.Pinger{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	routes.RegisterRoutes(r, controllers.NewOrderController(orderService),
		controllers.NewHealthController(observability.ServiceName, checks))

	srv := &http.Server{Addr: ":" + a.cfg.Port, Handler: r}
	go func() {
		log.Info("ticket orders service starting", zap.String("port", a.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down ticket orders service")
	case runErr = <-fatal:
		log.Error("background component failed", zap.Error(runErr))
	}
	stop()
	if consumer != nil {
		consumer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()

	log.Info("ticket orders service stopped gracefully")
	return runErr
}
