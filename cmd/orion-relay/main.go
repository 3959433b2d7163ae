package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"orion-bridge/api"
	"orion-bridge/api/middleware"
	"orion-bridge/db"
	"orion-bridge/pkg/config"
	"orion-bridge/pkg/orion"
	embeddednats "orion-bridge/pkg/services/embedded-nats"
	"orion-bridge/pkg/services/workers"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dbService *db.Service
	nats      *embeddednats.EmbeddedNATS
)

func initDB(cfg *config.Config) error {
	var err error

	dbConfig := db.DefaultConfig()
	dbConfig.DBPath = cfg.Relay.DBPath

	dbService, err = db.New(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize database service: %w", err)
	}
	return nil
}

func initNATS(cfg *config.Config) error {
	var err error

	natsConfig := embeddednats.DefaultConfig()
	natsConfig.DataDir = cfg.NATS.DataDir
	natsConfig.Port = cfg.NATS.Port

	nats, err = embeddednats.New(natsConfig)
	if err != nil {
		return fmt.Errorf("failed to create embedded NATS: %w", err)
	}

	if err := nats.Start(); err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}

	if err := nats.CreateRelayStreams(); err != nil {
		return fmt.Errorf("failed to create relay streams: %w", err)
	}

	log.Println("NATS JetStream initialized successfully")
	return nil
}

func main() {
	configPath := flag.String("config", "", "optional YAML configuration file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	} else {
		log.Println("Loaded configuration from .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logCloser := config.SetupLogging(cfg.Log)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	metrics, err := orion.NewMetrics(registry)
	if err != nil {
		log.Fatal("Failed to register client metrics:", err)
	}

	client, err := orion.New(cfg.OrionConfig(),
		orion.WithLogger(log.Default()),
		orion.WithMetrics(metrics),
	)
	if err != nil {
		log.Fatal("Failed to create Orion client:", err)
	}
	log.Printf("Orion broker: %s (auth %q)", client.HostPrefix(), cfg.OrionConfig().AuthMethod)

	if err := initDB(cfg); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer dbService.Close()

	if cfg.NATS.Enabled {
		if err := initNATS(cfg); err != nil {
			log.Fatal("Failed to initialize NATS:", err)
		}
	} else {
		log.Println("NATS disabled, notifications are recorded directly")
	}

	handlers := api.NewHandlers(dbService, client, nats)

	var workerManager *workers.Manager
	if nats != nil {
		workerManager, err = workers.NewManager(nats, handlers.Notifications(), registry)
		if err != nil {
			log.Fatal("Failed to create worker manager:", err)
		}
		if err := workerManager.Start(); err != nil {
			log.Fatal("Failed to start workers:", err)
		}
	}

	if cfg.Relay.Retention > 0 {
		go pruneLoop(ctx, cfg.Relay.Retention)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, cfg.Relay.BearerToken, registry)

	handler := middleware.CORS(middleware.RequestLogger(mux))

	port := strconv.Itoa(cfg.Relay.Port)
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting Orion relay on port %s", port)
		log.Printf("Broker callback URL: %s", cfg.CallbackURL())

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start:", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	if workerManager != nil {
		if err := workerManager.Stop(); err != nil {
			log.Printf("Failed to stop workers: %v", err)
		}
	}

	if nats != nil {
		if err := nats.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown NATS: %v", err)
		}
	}

	log.Println("Server shutdown complete")
}

// pruneLoop drops ledger notifications older than retention, hourly.
func pruneLoop(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		if _, err := dbService.PruneNotifications(time.Now().Add(-retention)); err != nil {
			log.Printf("Ledger prune failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
