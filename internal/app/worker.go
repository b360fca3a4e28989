package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"quantlab/internal/connector"
	"quantlab/internal/infrastructure"
	"quantlab/internal/model"
	"quantlab/internal/storage"
)

// SplitSymbols parses the INGEST_SYMBOLS config value, a comma-separated
// list of lowercase exchange symbols.
func SplitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// startIngestWorker streams live klines into JetStream and from there into
// the candle store, so backtests have data without an external pipeline.
func (a *App) startIngestWorker(ctx context.Context) {
	saver := storage.NewKlineSaver(a.DB, a.Logger, time.Second, 100)
	go saver.Start(ctx)

	// Persist everything that lands on the kline subjects.
	_, err := a.JS.Subscribe(infrastructure.SubjectKlines+".*.*", func(m *nats.Msg) {
		var k model.KLine
		if err := json.Unmarshal(m.Data, &k); err != nil {
			a.Logger.Error("failed to unmarshal kline", zap.Error(err))
			return
		}
		saver.Add(k)
		m.Ack()
	}, nats.Durable("kline_saver"), nats.ManualAck())
	if err != nil {
		a.Logger.Fatal("failed to subscribe to klines", zap.Error(err))
	}

	for _, symbol := range SplitSymbols(a.Config.IngestSymbols) {
		sym := symbol
		go func() {
			klineChan := make(chan model.KLine, 256)
			c := connector.NewBinanceKlineConnector(a.Logger, sym, string(model.Resolution1m))
			go c.Run(ctx, klineChan)

			for {
				select {
				case <-ctx.Done():
					return
				case k := <-klineChan:
					subject := fmt.Sprintf("%s.%s.%s", infrastructure.SubjectKlines, k.Period, k.Symbol)
					data, err := json.Marshal(k)
					if err != nil {
						a.Logger.Error("failed to marshal kline", zap.Error(err))
						continue
					}
					if _, err := a.JS.Publish(subject, data); err != nil {
						a.Logger.Error("failed to publish kline", zap.String("subject", subject), zap.Error(err))
					}
				}
			}
		}()
	}
}
