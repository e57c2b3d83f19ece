package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fibo-hedge-bot/internal/app"
	"fibo-hedge-bot/internal/config"
	"fibo-hedge-bot/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	pair := flag.String("pair", "", "trade a single pair instead of strategy.pairs")
	account := flag.String("account", "", "credential selector, reads BITGET_<ACCOUNT>_API_KEY")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.SetPair(*pair)
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded",
		zap.String("path", *configPath),
		zap.String("exchange", cfg.Exchange.Kind),
		zap.Strings("pairs", cfg.Strategy.Pairs),
	)

	if cfg.Exchange.Kind == config.ExchangeBitget {
		creds, err := config.LoadCredentials(*account)
		if err != nil {
			log.Error("credentials", zap.Error(err))
			os.Exit(1)
		}
		cfg.Credentials = creds
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	log.Info("app initialized")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("app terminated", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
