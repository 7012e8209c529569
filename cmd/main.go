/**
 * @description
 * This is the main entry point for the disbursement-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the Dwolla API client, message brokers, the Redis event
 * deduper, the reconciliation scheduler, repositories, the core application
 * service, and the HTTP server. It wires everything together and starts the
 * service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: Reconciliation sweep scheduling.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/dwollaclient: Client for the Dwolla ACH API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/giveflow/disbursement-service/internal/api"
	"github.com/giveflow/disbursement-service/internal/app"
	"github.com/giveflow/disbursement-service/internal/config"
	"github.com/giveflow/disbursement-service/internal/store"
	"github.com/giveflow/disbursement-service/pkg/dwollaclient"
	rmrabbit "github.com/giveflow/disbursement-service/pkg/rabbitmq"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.DwollaAPIKey) == "" || strings.TrimSpace(cfg.DwollaAPISecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"dwolla credentials must be configured\" env=DWOLLA_API_KEY,DWOLLA_API_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting disbursement-service\" port=%s split_disbursements_enabled=%t", cfg.ServerPort, cfg.SplitDisbursementsEnabled)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Align pool sizing with the other platform services.
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind PgBouncer.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish transfer status events.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the Dwolla ACH API.
	dwollaClient := dwollaclient.NewClient(cfg.DwollaAPIBaseURL, cfg.DwollaAPIKey, cfg.DwollaAPISecret)

	// Optional Redis connection for broker-redelivery suppression.
	var deduper app.EventDeduper
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; event dedupe disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; event dedupe disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; event dedupe disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				deduper = app.NewRedisEventDeduper(redisClient, cfg.RedisEventDedupePrefix, time.Duration(cfg.EventDedupeTTLMinutes)*time.Minute)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	disbursementService := app.NewService(repository, dwollaClient, producer, cfg.SplitDisbursementsEnabled)

	// Wire the payment event consumer to the donation events exchange.
	paymentConsumer := app.NewPaymentEventConsumer(disbursementService, deduper)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	paymentBindings := map[string]func([]byte) bool{
		"donation.payment.succeeded": paymentConsumer.HandleMessage,
	}
	if err := rabbitConsumer.ConsumeWithBindings(app.DonationEventsExchange, cfg.PaymentEventQueue, paymentBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"payment consumer start failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"payment consumer started\" queue=%s", cfg.PaymentEventQueue)

	// Schedule the reconciliation sweep for stuck processing claims.
	reconciler := app.NewReconciler(disbursementService, time.Duration(cfg.ProcessingDeadlineMinutes)*time.Minute, cfg.ReconcileBatchLimit)
	cronLogger := cron.PrintfLogger(log.New(os.Stderr, "level=info component=cron ", log.LstdFlags))
	scheduler := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	if _, err := scheduler.AddFunc(cfg.ReconcileSweepSchedule, reconciler.SweepStuckTransfers); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"reconcile sweep schedule invalid\" schedule=%q err=%v", cfg.ReconcileSweepSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Printf("level=info component=bootstrap msg=\"reconcile sweep scheduled\" schedule=%q deadline_minutes=%d", cfg.ReconcileSweepSchedule, cfg.ProcessingDeadlineMinutes)

	// Initialize the API handlers.
	disbursementHandlers := api.NewDisbursementHandlers(disbursementService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/disbursements", api.DisbursementRoutes(disbursementHandlers, cfg.StaffJWKSURL, cfg.InternalAPIKey))

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
