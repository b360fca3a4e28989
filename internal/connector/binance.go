package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quantlab/internal/model"
)

// BinanceKlineConnector streams live klines for one symbol so the candle
// store can be kept warm without an external pipeline.
type BinanceKlineConnector struct {
	logger *zap.Logger
	symbol string
	period string
}

func NewBinanceKlineConnector(logger *zap.Logger, symbol, period string) *BinanceKlineConnector {
	return &BinanceKlineConnector{
		logger: logger,
		symbol: strings.ToLower(symbol),
		period: period,
	}
}

// binanceKlineEvent is the raw kline event from the Binance WS stream.
type binanceKlineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

func (b *BinanceKlineConnector) Run(ctx context.Context, klineChan chan<- model.KLine) {
	url := fmt.Sprintf("wss://stream.binance.com:9443/ws/%s@kline_%s", b.symbol, b.period)
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b.logger.Info("connecting to binance kline stream", zap.String("url", url))
		dialer := websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		}
		conn, _, err := dialer.Dial(url, nil)
		if err != nil {
			b.logger.Error("failed to connect to binance", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		b.readLoop(ctx, conn, klineChan)
		conn.Close()
	}
}

func (b *BinanceKlineConnector) readLoop(ctx context.Context, conn *websocket.Conn, klineChan chan<- model.KLine) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			b.logger.Warn("binance read failed, reconnecting", zap.Error(err))
			return
		}

		var ev binanceKlineEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.EventType != "kline" {
			continue
		}

		k, err := ev.toKLine()
		if err != nil {
			b.logger.Warn("failed to parse binance kline", zap.Error(err))
			continue
		}

		select {
		case klineChan <- k:
		case <-ctx.Done():
			return
		}
	}
}

func (ev binanceKlineEvent) toKLine() (model.KLine, error) {
	open, err := decimal.NewFromString(ev.Kline.Open)
	if err != nil {
		return model.KLine{}, err
	}
	high, err := decimal.NewFromString(ev.Kline.High)
	if err != nil {
		return model.KLine{}, err
	}
	low, err := decimal.NewFromString(ev.Kline.Low)
	if err != nil {
		return model.KLine{}, err
	}
	cls, err := decimal.NewFromString(ev.Kline.Close)
	if err != nil {
		return model.KLine{}, err
	}
	vol, err := decimal.NewFromString(ev.Kline.Volume)
	if err != nil {
		return model.KLine{}, err
	}
	return model.KLine{
		Symbol:    ev.Kline.Symbol,
		Exchange:  "binance",
		Period:    ev.Kline.Interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		Timestamp: time.UnixMilli(ev.Kline.StartTime).UTC(),
	}, nil
}
