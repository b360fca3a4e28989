package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quantlab/internal/model"
)

// ErrStrategyNotFound is a configuration-class error: the run never starts.
var ErrStrategyNotFound = errors.New("strategy not found")

type StrategyStore struct {
	pool *pgxpool.Pool
}

func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

func (s *StrategyStore) Get(ctx context.Context, id int64) (*model.Strategy, error) {
	var (
		strat  model.Strategy
		config []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, code, config, created_at
		FROM strategies WHERE id = $1`, id).
		Scan(&strat.ID, &strat.UserID, &strat.Name, &strat.Code, &config, &strat.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrStrategyNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	strat.Config = config
	return &strat, nil
}
