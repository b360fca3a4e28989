package engine

import (
	"context"

	"go.uber.org/zap"

	"quantlab/internal/model"
)

// RunFunc executes one backtest. Runs are independent, so the pool only
// bounds concurrency; it adds no shared state between jobs.
type RunFunc func(ctx context.Context, cfg model.BacktestConfig) (*model.BacktestResult, error)

type job struct {
	ctx  context.Context
	cfg  model.BacktestConfig
	done chan jobResult
}

type jobResult struct {
	result *model.BacktestResult
	err    error
}

// RunnerPool caps the number of backtests executing at once. Submitters
// block until their own job finishes or their context is cancelled.
type RunnerPool struct {
	jobs    chan job
	workers int
	run     RunFunc
	logger  *zap.Logger
}

func NewRunnerPool(workers, buffer int, run RunFunc, logger *zap.Logger) *RunnerPool {
	if workers <= 0 {
		workers = 1
	}
	return &RunnerPool{
		jobs:    make(chan job, buffer),
		workers: workers,
		run:     run,
		logger:  logger,
	}
}

func (p *RunnerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx, i)
	}
	p.logger.Info("started backtest runner pool", zap.Int("workers", p.workers))
}

// Submit enqueues a run and waits for its result.
func (p *RunnerPool) Submit(ctx context.Context, cfg model.BacktestConfig) (*model.BacktestResult, error) {
	j := job{ctx: ctx, cfg: cfg, done: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-j.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *RunnerPool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.logger.Debug("worker picked up backtest",
				zap.Int("worker_id", id),
				zap.Int64("strategy_id", j.cfg.StrategyID))
			result, err := p.run(j.ctx, j.cfg)
			j.done <- jobResult{result: result, err: err}
		}
	}
}
