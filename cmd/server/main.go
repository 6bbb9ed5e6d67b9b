package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-orders/config"
	"storefront-orders/internal/api"
	"storefront-orders/internal/auth"
	"storefront-orders/internal/broker"
	"storefront-orders/internal/momo"
	"storefront-orders/internal/redisclient"
	"storefront-orders/internal/service"
	"storefront-orders/internal/store"
	"storefront-orders/internal/store/mongostore"
	"storefront-orders/internal/store/postgres"
	"storefront-orders/internal/util"
	"storefront-orders/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(util.LoggerOptions{
		Env:     cfg.Server.Env,
		Level:   cfg.Server.LogLevel,
		Service: "storefront-orders",
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront order service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store_driver", cfg.Storage.StoreDriver),
		zap.String("stock_driver", cfg.Storage.StockDriver))

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer("storefront-orders", cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	var (
		orders    store.OrderRepository
		ledger    store.StockLedger
		readiness []api.ReadinessCheck
	)

	switch cfg.Storage.StoreDriver {
	case "mongo":
		db, err := mongostore.Connect(startupCtx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			if err := db.Client().Disconnect(context.Background()); err != nil {
				logger.Error("Error disconnecting MongoDB", zap.Error(err))
			}
		}()
		repo := mongostore.NewOrderRepository(db)
		if err := repo.CreateIndexes(startupCtx); err != nil {
			logger.Fatal("Failed to create MongoDB indexes", zap.Error(err))
		}
		orders = repo
		ledger = mongostore.NewStockLedger(db, cfg.Mongo.Transactions)
		readiness = append(readiness, api.ReadinessCheck{Name: "mongodb", Check: func(ctx context.Context) error {
			return db.Client().Ping(ctx, nil)
		}})
		logger.Info("MongoDB connected", zap.String("database", cfg.Mongo.Database))

	case "postgres":
		db, err := postgres.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(startupCtx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		orders = db.Orders()
		ledger = db.Stock()
		readiness = append(readiness, api.ReadinessCheck{Name: "postgres", Check: db.Ping})
		logger.Info("Database connected")

	case "memory":
		orders = store.NewMemoryOrderRepository()
		ledger = store.NewMemoryStockLedger()
		logger.Warn("Using in-memory storage, data is lost on restart")

	default:
		logger.Fatal("Unknown STORE_DRIVER", zap.String("driver", cfg.Storage.StoreDriver))
	}

	var idem service.IdempotencyStore
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		if cfg.Storage.StockDriver == "redis" {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		logger.Warn("Redis unavailable, Idempotency-Key headers will be ignored", zap.Error(err))
	} else {
		defer redisClient.Close()
		idem = redisclient.NewIdempotencyStore(redisClient, cfg.Business.IdempotencyTTL)
		readiness = append(readiness, api.ReadinessCheck{Name: "redis", Check: redisClient.Ping})
		logger.Info("Redis connected")
	}

	switch cfg.Storage.StockDriver {
	case "store":
	case "redis":
		ledger = redisclient.NewStockLedger(redisClient)
	default:
		logger.Fatal("Unknown STOCK_DRIVER", zap.String("driver", cfg.Storage.StockDriver))
	}

	var events service.EventPublisher = broker.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		events = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET is not set, every authenticated request will be rejected")
	}
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	gateway := momo.NewClient(momo.Config{
		PartnerCode:   cfg.Momo.PartnerCode,
		AccessKey:     cfg.Momo.AccessKey,
		SecretKey:     cfg.Momo.SecretKey,
		CreateURL:     cfg.Momo.CreateURL,
		QueryURL:      cfg.Momo.QueryURL,
		RedirectURL:   cfg.Momo.ReturnURL,
		IPNURL:        cfg.Momo.NotifyURL,
		SandboxPayURL: cfg.Momo.SandboxPayURL,
		Timeout:       cfg.Momo.Timeout,
	}, nil)
	if !gateway.Config().Configured() {
		logger.Warn("MoMo credentials missing, checkout will return sandbox pay URLs")
	}

	orderService := service.NewOrderService(orders, service.NewInventoryService(ledger), gateway, events, idem,
		service.Config{Currency: cfg.Business.Currency})
	paymentService := service.NewPaymentService(orderService, gateway, cfg.Business.PaymentTimeout)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	reconcileWorker := worker.NewReconcileWorker(paymentService, cfg.Business.ReconcileInterval)
	go func() {
		if err := reconcileWorker.Start(workerCtx); err != nil {
			logger.Error("Reconciliation worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, verifier, api.Options{
		FrontendReturnURL: cfg.Momo.FrontendReturnURL,
		Readiness:         readiness,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	reconcileWorker.Wait()

	logger.Info("Server exited")
}
