package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fibo-hedge-bot/internal/alerts"
	"fibo-hedge-bot/internal/api"
	"fibo-hedge-bot/internal/config"
	"fibo-hedge-bot/internal/exchange"
	"fibo-hedge-bot/internal/exchange/bitget"
	"fibo-hedge-bot/internal/exchange/paper"
	"fibo-hedge-bot/internal/exec"
	"fibo-hedge-bot/internal/hedge"
	"fibo-hedge-bot/internal/ladder"
	"fibo-hedge-bot/internal/metrics"
	"fibo-hedge-bot/internal/state"
	"fibo-hedge-bot/internal/state/redis"
	"fibo-hedge-bot/internal/state/sqlite"
	"fibo-hedge-bot/internal/timescale"
	"fibo-hedge-bot/internal/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrStartup marks failures that must stop the process before any pair
// loop runs, such as a startup cleanup that left positions behind.
var ErrStartup = errors.New("startup failed")

type priceSource interface {
	Price(pair string) (decimal.Decimal, bool)
}

type pairRunner struct {
	engine    *hedge.Engine
	polls     int
	lastSaved []byte
}

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    state.Store
	gateway  exchange.Gateway
	alerts   *alerts.Telegram
	notifier *alerts.Async
	journal  *timescale.Writer
	prom     *metrics.Prometheus
	ticker   *bitget.Ticker
	prices   priceSource
	pairs    []*pairRunner

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
}

// New builds the exchange gateway, state store, alerting, journal and one
// hedge engine per configured pair.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := openStore(ctx, cfg.State)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	gw, ticker, err := NewGateway(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	journal, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("timescale: %w", err)
	}
	a, err := newApp(cfg, log, gw, store, journal)
	if err != nil {
		_ = store.Close()
		_ = journal.Close()
		return nil, err
	}
	a.ticker = ticker
	a.prices = ticker
	return a, nil
}

// NewGateway builds the configured exchange and the public ticker feed
// that supplies it with mark prices. One rate limiter serves every pair
// traded on the credential.
func NewGateway(cfg *config.Config, log *zap.Logger) (exchange.Gateway, *bitget.Ticker, error) {
	wsClient := ws.New(cfg.Exchange.WSURL, cfg.Exchange.ReconnectDelay, cfg.Exchange.WSPingInterval, log)
	ticker := bitget.NewTicker(wsClient, cfg.Exchange.ProductType, cfg.Exchange.PriceMaxAge, log)
	if cfg.Exchange.Kind == config.ExchangePaper {
		return paper.New(decimal.NewFromFloat(cfg.Exchange.PaperPrice), ticker, log), ticker, nil
	}
	client, err := bitget.New(cfg.Credentials, bitget.Options{
		BaseURL:     cfg.Exchange.BaseURL,
		ProductType: cfg.Exchange.ProductType,
		MarginCoin:  cfg.Exchange.MarginCoin,
		MarginMode:  cfg.Exchange.MarginMode,
		Timeout:     cfg.Exchange.CallTimeout,
		Limiter:     rate.NewLimiter(rate.Limit(cfg.Exchange.RateLimitPerSec), cfg.Exchange.RateLimitBurst),
	}, log)
	if err != nil {
		return nil, nil, err
	}
	client.SetPriceSource(ticker)
	return client, ticker, nil
}

// NewEngine builds the hedge engine for one pair over gw.
func NewEngine(cfg *config.Config, pair string, gw exchange.Gateway, deps hedge.Deps) (*hedge.Engine, error) {
	lad, err := ladder.New(cfg.Strategy.Ladder, ladder.Mode(cfg.Strategy.LadderMode))
	if err != nil {
		return nil, err
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	deps.Ladder = lad
	deps.Exec = exec.New(gw, exec.Options{
		CallTimeout: cfg.Exchange.CallTimeout,
		Attempts:    cfg.Exchange.CallAttempts,
		Backoff:     cfg.Exchange.CallBackoff,
	}, deps.Metrics, deps.Log.With(zap.String("pair", pair)))
	return hedge.New(pair, hedge.ParamsFromConfig(cfg.Strategy, cfg.Risk), deps), nil
}

func openStore(ctx context.Context, cfg config.StateConfig) (state.Store, error) {
	if cfg.Backend == config.BackendRedis {
		return redis.New(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisPrefix)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	return sqlite.New(cfg.SQLitePath)
}

// newApp wires engines over an already built gateway and store.
func newApp(cfg *config.Config, log *zap.Logger, gw exchange.Gateway, store state.Store, journal *timescale.Writer) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		gateway: gw,
		alerts:  alerts.NewTelegram(cfg.Telegram, log),
		journal: journal,
		prom:    metrics.NewPrometheus(),
	}
	if a.alerts.Enabled() {
		a.notifier = alerts.NewAsync(a.alerts, cfg.Telegram.QueueSize, log)
	}
	for _, pair := range cfg.Strategy.Pairs {
		deps := hedge.Deps{Metrics: a.prom.ForPair(pair), Log: log}
		if a.notifier != nil {
			deps.Notifier = a.notifier
		}
		if journal != nil {
			deps.Journal = journal
		}
		e, err := NewEngine(cfg, pair, gw, deps)
		if err != nil {
			return nil, err
		}
		a.pairs = append(a.pairs, &pairRunner{engine: e})
	}
	return a, nil
}

// Run starts the background services and one loop per pair. It returns
// nil after a clean shutdown and ErrStartup when a pair cannot start.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	svcCtx, stopServices := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	a.startServices(svcCtx, &wg)
	defer func() {
		stopServices()
		wg.Wait()
	}()
	a.startOperator(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range a.pairs {
		p := p
		g.Go(func() error {
			return a.runPair(gctx, p)
		})
	}
	return g.Wait()
}

func (a *App) startServices(ctx context.Context, wg *sync.WaitGroup) {
	goService := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	if a.notifier != nil {
		goService(func() { a.notifier.Run(ctx) })
	}
	a.journal.Start(ctx)
	if a.ticker != nil {
		goService(func() {
			if err := a.ticker.Run(ctx, a.cfg.Strategy.Pairs); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("ticker stopped", zap.Error(err))
			}
		})
	}
	if a.cfg.Metrics.EnabledValue() {
		goService(func() {
			if err := api.Serve(ctx, a.cfg.Metrics.Address, a.metricsMux(), a.log); err != nil {
				a.log.Warn("metrics server stopped", zap.Error(err))
			}
		})
	}
	if a.cfg.API.Enabled {
		goService(func() {
			if err := api.Serve(ctx, a.cfg.API.Address, api.Router(a, a.prom.Handler()), a.log); err != nil {
				a.log.Warn("api server stopped", zap.Error(err))
			}
		})
	}
}

func (a *App) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.journal != nil {
		_ = a.journal.Close()
	}
}

func (a *App) runPair(ctx context.Context, p *pairRunner) error {
	if err := a.startPair(ctx, p); err != nil {
		if ctx.Err() != nil {
			// Stopped mid-startup: legs may already be open without protection.
			a.stopPair(p)
			return nil
		}
		a.notify(ctx, fmt.Sprintf("[%s] startup failed: %v", p.engine.Pair(), err))
		return fmt.Errorf("%s: %w: %w", p.engine.Pair(), ErrStartup, err)
	}
	defer a.stopPair(p)
	interval := a.cfg.Strategy.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick(ctx, p)
		}
	}
}

// startPair either resumes a persisted hedge or flattens the account and
// opens a fresh one.
func (a *App) startPair(ctx context.Context, p *pairRunner) error {
	e := p.engine
	log := a.log.With(zap.String("pair", e.Pair()))
	if a.cfg.Strategy.StartupMode == config.StartupResume {
		var saved hedge.State
		ok, err := state.LoadJSON(ctx, a.store, state.HedgeKey(e.Pair()), &saved)
		if err != nil {
			log.Warn("saved hedge state unreadable, starting clean", zap.Error(err))
		}
		if ok && saved.Active {
			report, err := e.Resume(ctx, saved)
			if err != nil {
				log.Warn("resume audit incomplete", zap.Error(err))
			}
			log.Info("hedge resumed", zap.Strings("repairs", report.Repairs))
			a.persist(ctx, p)
			return nil
		}
	}
	if err := e.Cleanup(ctx); err != nil {
		return err
	}
	if err := e.OpenHedge(ctx); err != nil {
		if !e.State().Active {
			return err
		}
		log.Warn("hedge opened with failures, audit will repair", zap.Error(err))
	}
	a.persist(ctx, p)
	return nil
}

func (a *App) tick(ctx context.Context, p *pairRunner) {
	if a.isPaused() {
		return
	}
	e := p.engine
	d, err := e.Poll(ctx)
	switch {
	case errors.Is(err, hedge.ErrBusy):
		a.log.Debug("poll dropped, pair busy", zap.String("pair", e.Pair()))
		return
	case err != nil:
		a.log.Warn("poll failed", zap.String("pair", e.Pair()), zap.String("event", string(d.Event)), zap.Error(err))
	}
	p.polls++
	if a.auditDue(p, d, err) {
		if _, err := e.Audit(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("audit failed", zap.String("pair", e.Pair()), zap.Error(err))
		}
	}
	a.persist(ctx, p)
	a.sample(e.State())
}

// auditDue runs the audit on its cadence and right after a reaction that
// left the state flagged.
func (a *App) auditDue(p *pairRunner, d hedge.Detection, pollErr error) bool {
	every := a.cfg.Strategy.AuditEvery
	if every > 0 && p.polls%every == 0 {
		return true
	}
	return d.Event != hedge.EventNone && pollErr != nil && p.engine.State().NeedsAudit
}

// stopPair runs the shutdown cleanup with a fresh bounded context.
func (a *App) stopPair(p *pairRunner) {
	e := p.engine
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Strategy.ShutdownTimeout)
	defer cancel()
	if a.cfg.Strategy.ShutdownFlatten != nil && *a.cfg.Strategy.ShutdownFlatten {
		if err := e.Cleanup(ctx); err != nil {
			a.log.Error("shutdown cleanup incomplete", zap.String("pair", e.Pair()), zap.Error(err))
			a.notify(ctx, fmt.Sprintf("[%s] shutdown cleanup incomplete: %v", e.Pair(), err))
		} else {
			a.notify(ctx, fmt.Sprintf("[%s] shutdown: account flattened", e.Pair()))
		}
	}
	a.persist(ctx, p)
}

// persist saves the pair state when it changed since the last save.
func (a *App) persist(ctx context.Context, p *pairRunner) {
	st := p.engine.State()
	st.UpdatedAt = time.Time{}
	payload, err := json.Marshal(st)
	if err != nil {
		return
	}
	if string(payload) == string(p.lastSaved) {
		return
	}
	if err := state.SaveJSON(ctx, a.store, state.HedgeKey(st.Pair), p.engine.State()); err != nil {
		a.log.Warn("persist hedge state failed", zap.String("pair", st.Pair), zap.Error(err))
		return
	}
	p.lastSaved = payload
}

func (a *App) sample(st hedge.State) {
	if a.journal == nil {
		return
	}
	var price decimal.Decimal
	if a.prices != nil {
		price, _ = a.prices.Price(st.Pair)
	}
	a.journal.EnqueuePosition(timescale.PositionSample{
		Time:       time.Now().UTC(),
		Pair:       st.Pair,
		Price:      price.InexactFloat64(),
		LongSize:   legSize(st.Long),
		LongEntry:  st.Long.Entry.InexactFloat64(),
		LongLevel:  st.Long.Level,
		ShortSize:  legSize(st.Short),
		ShortEntry: st.Short.Entry.InexactFloat64(),
		ShortLevel: st.Short.Level,
	})
}

func legSize(leg hedge.Leg) float64 {
	if !leg.Open {
		return 0
	}
	return leg.SizePrev.InexactFloat64()
}

func (a *App) notify(ctx context.Context, text string) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(ctx, text)
}

func (a *App) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	return mux
}

// States returns the last published state of every pair.
func (a *App) States() []hedge.State {
	out := make([]hedge.State, 0, len(a.pairs))
	for _, p := range a.pairs {
		out = append(out, p.engine.State())
	}
	return out
}

func (a *App) Paused() bool {
	return a.isPaused()
}

func (a *App) engine(pair string) (*hedge.Engine, bool) {
	for _, p := range a.pairs {
		if p.engine.Pair() == pair {
			return p.engine, true
		}
	}
	return nil, false
}
