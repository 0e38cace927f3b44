package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arex/position_tracker/internal/domain"
	"github.com/arex/position_tracker/internal/infrastructure/exchange"
	"github.com/arex/position_tracker/internal/infrastructure/logger"
	"github.com/arex/position_tracker/internal/infrastructure/storage"
	"github.com/arex/position_tracker/internal/infrastructure/subscriber"
	"github.com/arex/position_tracker/internal/usecase"
	"github.com/arex/position_tracker/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Oracle struct {
		Exchange     string   `yaml:"exchange"` // "binance" (default) or "bybit"
		RESTEndpoint string   `yaml:"rest_endpoint"`
		WSEndpoint   string   `yaml:"ws_endpoint"`
		WatchCoins   []string `yaml:"watch_coins"`
	} `yaml:"oracle"`
	Board struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"board"`
	Fanout struct {
		ExtraMultiplier float64 `yaml:"extra_multiplier"`
	} `yaml:"fanout"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "positions.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Adapters
	var oracle domain.PriceOracle
	var binance *exchange.BinanceAdapter
	switch cfg.Oracle.Exchange {
	case "", "binance":
		binance = exchange.NewBinanceAdapter(cfg.Oracle.RESTEndpoint, cfg.Oracle.WSEndpoint, log)
		oracle = binance
	case "bybit":
		oracle = exchange.NewBybitAdapter(cfg.Oracle.RESTEndpoint, log)
	default:
		log.Fatal("Unknown oracle exchange", zap.String("exchange", cfg.Oracle.Exchange))
	}
	board := subscriber.NewBoardClient(cfg.Board.Endpoint)

	// 5. Init Services
	dispatcher := usecase.NewDispatcher(store, board, cfg.Fanout.ExtraMultiplier, log)
	positions := usecase.NewPositionService(store, oracle, dispatcher, log)
	subs := usecase.NewSubscriptionService(store, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Price stream keeps the Binance last-price cache warm
	if binance != nil {
		go binance.RunPriceStream(ctx, cfg.Oracle.WatchCoins)
	}

	// 7. Init Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, positions, subs, oracle, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 8. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
	server.Shutdown(context.Background())
}
