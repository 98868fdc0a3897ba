package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"raffle-service/internal/api"
	"raffle-service/internal/config"
	"raffle-service/internal/downloads"
	"raffle-service/internal/events"
	"raffle-service/internal/ledger"
	ledgerstore "raffle-service/internal/ledger/store"
	"raffle-service/internal/logger"
	"raffle-service/internal/middleware"
	"raffle-service/internal/payment"
	"raffle-service/internal/storage"
	"raffle-service/internal/tickets"
)

func openDatabase(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	driver := sqliteshim.ShimName
	if cfg.Driver == "postgres" {
		driver = "postgres"
	}

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to %s (attempt %d/%d)", cfg.Driver, i+1, maxRetries))
		sqldb, err = sql.Open(driver, cfg.DSN)
		if err == nil {
			err = sqldb.Ping()
		}
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Database connection failed: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to %s after %d attempts: %v", cfg.Driver, maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	if cfg.Driver == "postgres" {
		return bun.NewDB(sqldb, pgdialect.New())
	}
	return bun.NewDB(sqldb, sqlitedialect.New())
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Addr))
	return client
}

func buildFileStore(cfg config.StorageConfig, log *logger.Logger) storage.FileStore {
	disk, err := storage.NewDisk(cfg.LocalDir)
	if err != nil {
		log.Fatal("STORAGE", fmt.Sprintf("Local storage directory unusable: %v", err))
	}

	if cfg.Endpoint == "" {
		log.Info("STORAGE", "No object storage configured, using local disk only")
		return disk
	}

	object, err := storage.NewObject(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Bucket, cfg.UseSSL)
	if err != nil {
		log.Warn("STORAGE", fmt.Sprintf("Object storage unavailable, using local disk only: %v", err))
		return disk
	}
	if err := object.EnsureBucket(context.Background()); err != nil {
		log.Warn("STORAGE", fmt.Sprintf("Bucket check failed, using local disk only: %v", err))
		return disk
	}

	if cfg.ObjectOnly {
		return object
	}
	return storage.NewFallback(object, disk, log)
}

func newRouter(cfg *config.Config, stateHandler *api.Handler, ticketHandler *api.TicketHandler, log *logger.Logger) *chi.Mux {
	limiter := middleware.NewIPRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)

	r := chi.NewRouter()

	r.Get("/healthz", stateHandler.Healthz)

	// --- Public read routes, rate limited per client IP ---
	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Get("/api/raffle/state", stateHandler.GetState)
		r.Get("/api/raffle/sales", stateHandler.GetSales)
		r.Get("/api/tickets/download/{token}", ticketHandler.Download)
	})

	// --- Signed buyer routes ---
	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		if cfg.Security.HMACSecret != "" {
			r.Use(middleware.HMACSignature(cfg.Security.HMACSecret, cfg.Security.SkewWindow, log))
		} else {
			log.Warn("SECURITY", "HMAC_SECRET not set, request signing disabled")
		}
		r.Post("/api/raffle/sale", stateHandler.RecordSale)
		r.Post("/api/tickets/generate", ticketHandler.Generate)
	})

	// --- Admin routes, registered only with a secret to guard them ---
	if cfg.Security.JWTSecret != "" {
		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminJWT(cfg.Security.JWTSecret, log))
			r.Post("/api/raffle/resync", stateHandler.Resync)
		})
	} else {
		log.Warn("SECURITY", "JWT_SECRET not set, admin routes disabled")
	}

	return r
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting raffle service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx := context.Background()

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	bunDB := openDatabase(cfg.Database, log)
	defer bunDB.Close()

	sqlStore := ledgerstore.NewSQL(bunDB)
	if err := sqlStore.Init(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to create kv_records table: %v", err))
	}

	kvStore := ledgerstore.NewFallback(ledgerstore.NewRedis(redisClient), sqlStore, log)

	schedule := ledger.DecaySchedule{
		RaffleID:      cfg.Raffle.RaffleID,
		StartDate:     cfg.Raffle.StartDate,
		DedicatedDays: cfg.Raffle.DedicatedDays,
		MinStart:      cfg.Raffle.DecayMinStart,
		MaxStart:      cfg.Raffle.DecayMaxStart,
		MinEnd:        cfg.Raffle.DecayMinEnd,
		MaxEnd:        cfg.Raffle.DecayMaxEnd,
	}
	availabilityLedger := ledger.New(kvStore, schedule, cfg.Raffle.InitialTickets, log, cfg.Raffle.StateCacheTTL)

	var producer *events.Producer
	if cfg.Kafka.Enabled {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.SaleRecorded, cfg.Kafka.Topics.StateResynced, cfg.Kafka.MockMode, log)
		defer producer.Close()

		if !cfg.Kafka.MockMode {
			topics := []string{cfg.Kafka.Topics.SaleRecorded, cfg.Kafka.Topics.StateResynced}
			if err := events.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
				log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
			}
		}
	}

	ticketPrice, err := strconv.ParseFloat(cfg.Raffle.TicketPrice, 64)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid TICKET_PRICE %q: %v", cfg.Raffle.TicketPrice, err))
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	verifier := payment.NewVerifier(
		cfg.PayPal.BaseURL, cfg.PayPal.ClientID, cfg.PayPal.ClientSecret,
		ticketPrice, cfg.Raffle.Currency, httpClient, kvStore, log,
	)

	qr := tickets.NewQRGenerator(cfg.Security.HMACSecret)
	renderer := tickets.NewRenderer(cfg.Raffle.EventDate, cfg.Raffle.EventPlace, cfg.Raffle.TicketPrice, qr)

	fileStore := buildFileStore(cfg.Storage, log)
	downloadLimiter := downloads.NewLimiter(kvStore, cfg.Downloads.MaxRedeems, cfg.Downloads.TokenTTL)

	stateHandler := &api.Handler{
		Ledger:   availabilityLedger,
		Producer: producer,
		RaffleID: cfg.Raffle.RaffleID,
		Logger:   log,
	}
	ticketHandler := &api.TicketHandler{
		Ledger:    availabilityLedger,
		Renderer:  renderer,
		Verifier:  verifier,
		Files:     fileStore,
		Downloads: downloadLimiter,
		Logger:    log,
		Publish:   stateHandler.PublishSale,
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := newRouter(cfg, stateHandler, ticketHandler, log)
	log.Info("ROUTER", "Raffle routes registered under /api/raffle and /api/tickets")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Raffle service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Raffle service shutdown complete")
	}
}
