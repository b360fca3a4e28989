package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"quantlab/internal/infrastructure"
	"quantlab/internal/model"
)

// KlineSaver buffers ingested klines and writes them in batches, either when
// the buffer fills or on a timer.
type KlineSaver struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	interval time.Duration
	capacity int

	mu  sync.Mutex
	buf []model.KLine
}

func NewKlineSaver(pool *pgxpool.Pool, logger *zap.Logger, interval time.Duration, capacity int) *KlineSaver {
	if capacity <= 0 {
		capacity = 100
	}
	return &KlineSaver{
		pool:     pool,
		logger:   logger,
		interval: interval,
		capacity: capacity,
		buf:      make([]model.KLine, 0, capacity),
	}
}

// Start runs the flush loop until ctx is cancelled, draining once on exit.
func (s *KlineSaver) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *KlineSaver) Add(k model.KLine) {
	s.mu.Lock()
	s.buf = append(s.buf, k)
	full := len(s.buf) >= s.capacity
	s.mu.Unlock()
	if full {
		s.flush(context.Background())
	}
}

func (s *KlineSaver) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.buf
	s.buf = make([]model.KLine, 0, s.capacity)
	s.mu.Unlock()

	batch := &pgx.Batch{}
	for _, k := range pending {
		batch.Queue(`
			INSERT INTO market_klines (symbol, exchange, period, open, high, low, close, volume, time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (symbol, exchange, period, time) DO UPDATE SET
				high = GREATEST(market_klines.high, EXCLUDED.high),
				low = LEAST(market_klines.low, EXCLUDED.low),
				close = EXCLUDED.close,
				volume = EXCLUDED.volume`,
			k.Symbol, k.Exchange, k.Period, k.Open, k.High, k.Low, k.Close, k.Volume, k.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range pending {
		if _, err := br.Exec(); err != nil {
			s.logger.Error("failed to save kline batch", zap.Error(err))
			return
		}
	}
	infrastructure.KlinesSaved.Add(float64(len(pending)))
	s.logger.Debug("saved kline batch", zap.Int("count", len(pending)))
}
