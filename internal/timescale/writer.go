package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"fibo-hedge-bot/internal/config"
	"fibo-hedge-bot/internal/hedge"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// PositionSample is one poll's view of both legs of a pair.
type PositionSample struct {
	Time       time.Time
	Pair       string
	Price      float64
	LongSize   float64
	LongEntry  float64
	LongLevel  int
	ShortSize  float64
	ShortEntry float64
	ShortLevel int
}

// Writer journals hedge transitions and position samples into
// TimescaleDB. Writes are queued and never block the engine.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	events    chan hedge.Record
	positions chan PositionSample
	started   atomic.Bool
	dropEvent atomic.Uint64
	dropPos   atomic.Uint64
}

var _ hedge.Journal = (*Writer)(nil)

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		events:    make(chan hedge.Record, queueSize),
		positions: make(chan PositionSample, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record queues a hedge transition.
func (w *Writer) Record(ctx context.Context, rec hedge.Record) {
	if w == nil {
		return
	}
	select {
	case w.events <- rec:
	default:
		if w.dropEvent.Add(1) == 1 {
			w.log.Warn("timescale event queue full")
		}
	}
}

func (w *Writer) EnqueuePosition(sample PositionSample) {
	if w == nil {
		return
	}
	select {
	case w.positions <- sample:
	default:
		if w.dropPos.Add(1) == 1 {
			w.log.Warn("timescale position queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-w.events:
			w.writeEvent(ctx, rec)
		case sample := <-w.positions:
			w.writePosition(ctx, sample)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		kind TEXT NOT NULL,
		side TEXT NOT NULL,
		level INTEGER NOT NULL,
		price NUMERIC NOT NULL,
		size NUMERIC NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`, w.table("hedge_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		long_size DOUBLE PRECISION NOT NULL,
		long_entry DOUBLE PRECISION NOT NULL,
		long_level INTEGER NOT NULL,
		short_size DOUBLE PRECISION NOT NULL,
		short_entry DOUBLE PRECISION NOT NULL,
		short_level INTEGER NOT NULL
	)`, w.table("position_samples"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"hedge_events", "position_samples"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeEvent(ctx context.Context, rec hedge.Record) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, pair, kind, side, level, price, size, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("hedge_events"))
	if _, err := w.db.ExecContext(ctx, query, eventArgs(rec)...); err != nil {
		w.log.Warn("timescale event insert failed", zap.Error(err))
	}
}

func eventArgs(rec hedge.Record) []any {
	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return []any{ts, rec.Pair, rec.Kind, string(rec.Side), rec.Level, rec.Price.String(), rec.Size.String(), rec.Detail}
}

func (w *Writer) writePosition(ctx context.Context, s PositionSample) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair, price, long_size, long_entry, long_level, short_size, short_entry, short_level
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, w.table("position_samples"))
	if _, err := w.db.ExecContext(ctx, query,
		s.Time, s.Pair, s.Price,
		s.LongSize, s.LongEntry, s.LongLevel,
		s.ShortSize, s.ShortEntry, s.ShortLevel,
	); err != nil {
		w.log.Warn("timescale position insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
