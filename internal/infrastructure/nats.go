package infrastructure

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	StreamName = "QUANTLAB"

	// SubjectBacktestCompleted is the per-strategy completion event subject,
	// suffixed with the strategy ID.
	SubjectBacktestCompleted = "backtest.completed"

	// SubjectKlines carries ingested klines: market.kline.<period>.<symbol>.
	SubjectKlines = "market.kline"
)

func InitNATS(url string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, nil, err
	}

	cfg := &nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"backtest.completed.*", "market.kline.*.*"},
	}
	if _, err := js.AddStream(cfg); err != nil {
		// Stream may already exist with older subjects.
		if _, err := js.UpdateStream(cfg); err != nil {
			logger.Warn("failed to create or update stream", zap.Error(err))
		}
	}

	return nc, js, nil
}
