/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rental modification and settlement engine.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (godotenv) and parse command-line flags
  2. Load YAML config with environment overrides
  3. Open the store (sqlite or postgres per config)
  4. Wire optional Redis cache, Kafka producer, payment gateway
  5. Build the settlement and modification services
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to the YAML config file (default: config.yaml;
           a missing file falls back to built-in defaults)
  -addr    HTTP listen address, overrides config (e.g. ":3000")

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close Kafka writer, Redis client, database
  4. Exit

EXAMPLES:
  # Defaults: sqlite at ./data/rental.db, no cache, no broker
  ./server

  # Postgres with cache and events
  RENTAL_DB_DRIVER=postgres RENTAL_DB_DSN="host=db ..." \
  RENTAL_REDIS_ADDR=localhost:6379 RENTAL_KAFKA_BROKERS=localhost:9092 \
  ./server -config=prod.yaml

SEE ALSO:
  - config/config.go: configuration shape and env overrides
  - api/server.go: router configuration
*/
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/api"
	"github.com/warp/rental-engine/cache"
	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/events"
	"github.com/warp/rental-engine/gateway"
	"github.com/warp/rental-engine/modification"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/settlement"
	"github.com/warp/rental-engine/store/postgres"
	"github.com/warp/rental-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	// Store
	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer closeStore()

	// Optional collaborators
	var summaryCache rental.SummaryCache
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		redisCache = cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSeconds)*time.Second)
		summaryCache = redisCache
		log.Printf("Settlement summary cache enabled (redis %s)", cfg.Redis.Addr)
	}

	var publisher rental.EventPublisher
	var producer *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher = producer
		log.Printf("Event publishing enabled (kafka %v, topic %s)", cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}

	var capturer modification.Capturer = gateway.Noop{}
	if cfg.Gateway.BaseURL != "" {
		capturer = gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)
		log.Printf("Payment captures enabled (%s)", cfg.Gateway.BaseURL)
	}

	// Services
	flatFee, err := cfg.Policy.FlatFeeAmount()
	if err != nil {
		log.Fatalf("Invalid policy config: %v", err)
	}
	resolver := modification.NewConfigResolver(store, modification.Config{
		FreeModificationHours: cfg.Policy.FreeModificationHours,
		FeeType:               modification.FeeType(cfg.Policy.FeeType),
		FlatFee:               rental.Money{Value: flatFee, Currency: cfg.Policy.Currency},
		FeePercent:            decimal.NewFromFloat(cfg.Policy.FeePercent),
	})
	pricing := modification.NewRateTableRecalculator(store)
	previews := modification.NewPreviewBuilder(store, resolver, pricing)

	var settlementOpts []settlement.Option
	var executorOpts []modification.ExecutorOption
	executorOpts = append(executorOpts, modification.WithGateway(capturer))
	if summaryCache != nil {
		settlementOpts = append(settlementOpts, settlement.WithCache(summaryCache))
		executorOpts = append(executorOpts, modification.WithCache(summaryCache))
	}
	if publisher != nil {
		settlementOpts = append(settlementOpts, settlement.WithEvents(publisher))
		executorOpts = append(executorOpts, modification.WithEvents(publisher))
	}

	settlements := settlement.NewService(store, settlementOpts...)
	executor := modification.NewExecutor(store, previews, executorOpts...)

	handler := api.NewHandler(api.Deps{
		Store:       store,
		Settlements: settlements,
		Policies:    resolver,
		Pricing:     pricing,
		Previews:    previews,
		Executor:    executor,
		Currency:    cfg.Policy.Currency,
	})
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s (%s store)", cfg.HTTP.Addr, cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Printf("Warning: failed to close kafka writer: %v", err)
		}
	}
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			log.Printf("Warning: failed to close redis client: %v", err)
		}
	}

	log.Println("Server stopped")
}

// openStore opens the configured store and returns it with its cleanup.
func openStore(cfg *config.Config) (rental.TxStore, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.New(db), func() { db.Close() }, nil
	default:
		store, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
}
