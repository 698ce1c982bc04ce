package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"ordermod-billing/internal/config"
	"ordermod-billing/internal/db"
	"ordermod-billing/internal/gateway/checkout"
	"ordermod-billing/internal/gateway/notify"
	"ordermod-billing/internal/gateway/orderstore"
	"ordermod-billing/internal/httpserver"
	"ordermod-billing/internal/rates"
	requestrepo "ordermod-billing/internal/repository/changerequest"
	requestsvc "ordermod-billing/internal/service/changerequest"
	"ordermod-billing/internal/telemetry"
	"ordermod-billing/internal/worker"
)

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.LUTC|log.Lshortfile)

	ctx := context.Background()
	dbpool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatalf("connect to db: %v", err)
	}
	defer dbpool.Close()

	var quoteCache rates.QuoteCache = rates.NoopQuoteCache{}
	if cfg.RedisAddr != "" {
		redisCache := rates.NewRedisQuoteCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Printf("redis unreachable, quotes will not be cached: %v", err)
		} else {
			quoteCache = redisCache
			defer redisCache.Close()
		}
	}

	ratingClient := rates.NewHTTPClient(cfg.RatingBaseURL, cfg.RatingAPIKey, cfg.GatewayTimeout)
	rater := rates.NewRater(ratingClient, quoteCache, cfg.GroundServiceCode, cfg.QuoteCacheTTL, logger)

	checkoutGW := checkout.NewHTTPClient(cfg.CheckoutBaseURL, cfg.CheckoutToken, cfg.GatewayTimeout)
	notifyGW := notify.NewHTTPClient(cfg.NotifyBaseURL, cfg.NotifyToken, cfg.GatewayTimeout)
	orderStore := orderstore.NewHTTPClient(cfg.OrderStoreBaseURL, cfg.OrderStoreToken, cfg.GatewayTimeout)

	repo := requestrepo.NewPostgres(dbpool)
	svc := requestsvc.New(repo, checkoutGW, notifyGW, orderStore, rater, cfg.InvoiceTTL, logger)

	metrics := telemetry.NewMetrics()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup

	poller := worker.NewPoller(svc, cfg.PollInterval, cfg.WorkerBatch, metrics, log.New(os.Stdout, "[poller] ", log.LstdFlags|log.LUTC))
	sweeper := worker.NewSweeper(svc, cfg.SweepInterval, cfg.WorkerBatch, metrics, log.New(os.Stdout, "[sweeper] ", log.LstdFlags|log.LUTC))
	workers.Add(2)
	go func() {
		defer workers.Done()
		poller.Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		sweeper.Run(workerCtx)
	}()

	srv := httpserver.New(cfg.HTTPAddr, logger, dbpool, svc, metrics)

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("starting http server on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Printf("received signal %s, shutting down", sig)
	case err := <-serverErr:
		logger.Printf("server error: %v", err)
	}

	stopWorkers()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	} else {
		logger.Printf("server stopped")
	}
}
