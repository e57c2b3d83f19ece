// Command flatten closes every position and cancels every order for the
// configured pairs, using the same cleanup cycle the bot runs on startup.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fibo-hedge-bot/internal/app"
	"fibo-hedge-bot/internal/config"
	"fibo-hedge-bot/internal/exchange"
	"fibo-hedge-bot/internal/hedge"
	"fibo-hedge-bot/internal/logging"

	"go.uber.org/zap"
)

const defaultFlattenTimeout = 2 * time.Minute

type exposure struct {
	Pair      string             `json:"pair"`
	Positions exchange.Positions `json:"positions"`
	Orders    []exchange.Order   `json:"orders"`
	Triggers  []exchange.Order   `json:"triggers"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	pair := flag.String("pair", "", "flatten a single pair instead of strategy.pairs")
	account := flag.String("account", "", "credential selector, reads BITGET_<ACCOUNT>_API_KEY")
	dryRun := flag.Bool("dry-run", false, "print open exposure and exit")
	timeout := flag.Duration("timeout", defaultFlattenTimeout, "overall deadline")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	cfg.SetPair(*pair)
	if cfg.Exchange.Kind == config.ExchangeBitget {
		creds, err := config.LoadCredentials(*account)
		if err != nil {
			fatal(err)
		}
		cfg.Credentials = creds
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	gw, _, err := app.NewGateway(cfg, log)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if *dryRun {
		out := make([]exposure, 0, len(cfg.Strategy.Pairs))
		for _, p := range cfg.Strategy.Pairs {
			exp, err := readExposure(ctx, gw, p)
			if err != nil {
				fatal(fmt.Errorf("%s: %w", p, err))
			}
			out = append(out, exp)
		}
		pretty, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s\n", pretty)
		return
	}

	failed := false
	for _, p := range cfg.Strategy.Pairs {
		engine, err := app.NewEngine(cfg, p, gw, hedge.Deps{Log: log})
		if err != nil {
			fatal(err)
		}
		if err := engine.Cleanup(ctx); err != nil {
			log.Error("flatten incomplete", zap.String("pair", p), zap.Error(err))
			fmt.Printf("%s: flatten incomplete: %v\n", p, err)
			failed = true
			continue
		}
		fmt.Printf("%s: flat\n", p)
	}
	if failed {
		os.Exit(1)
	}
}

func readExposure(ctx context.Context, gw exchange.Gateway, pair string) (exposure, error) {
	positions, err := gw.Positions(ctx, pair)
	if err != nil {
		return exposure{}, err
	}
	orders, err := gw.OpenOrders(ctx, pair)
	if err != nil {
		return exposure{}, err
	}
	triggers, err := gw.PendingTriggerOrders(ctx, pair)
	if err != nil {
		return exposure{}, err
	}
	return exposure{Pair: pair, Positions: positions, Orders: orders, Triggers: triggers}, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
