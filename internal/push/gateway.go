// Package push fans backtest completion events out to dashboard websockets.
// Clients subscribe per strategy; each strategy subject holds one shared
// JetStream subscription that lives as long as it has listeners.
package push

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"quantlab/internal/infrastructure"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Gateway struct {
	logger *zap.Logger
	js     nats.JetStreamContext

	mu        sync.RWMutex
	listeners map[string]map[*client]bool
	natsSubs  map[string]*nats.Subscription
}

func NewGateway(js nats.JetStreamContext, logger *zap.Logger) *Gateway {
	return &Gateway{
		logger:    logger,
		js:        js,
		listeners: make(map[string]map[*client]bool),
		natsSubs:  make(map[string]*nats.Subscription),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	infrastructure.WSConnections.Inc()

	go g.writePump(c)
	g.readPump(c)
}

// clientMessage is what a dashboard sends over the socket.
type clientMessage struct {
	Action     string `json:"action"` // "subscribe" or "unsubscribe"
	StrategyID int64  `json:"strategy_id"`
}

func (g *Gateway) readPump(c *client) {
	defer func() {
		g.dropClient(c)
		infrastructure.WSConnections.Dec()
		c.conn.Close()
		close(c.send)
	}()

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.StrategyID <= 0 {
			continue
		}
		subject := fmt.Sprintf("%s.%d", infrastructure.SubjectBacktestCompleted, msg.StrategyID)

		switch msg.Action {
		case "subscribe":
			g.subscribe(c, subject)
		case "unsubscribe":
			g.unsubscribe(c, subject)
		}
	}
}

func (g *Gateway) writePump(c *client) {
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (g *Gateway) subscribe(c *client, subject string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.listeners[subject] == nil {
		g.listeners[subject] = make(map[*client]bool)
		sub, err := g.js.Subscribe(subject, func(msg *nats.Msg) {
			g.broadcast(subject, msg.Data)
			msg.Ack()
		}, nats.ManualAck())
		if err != nil {
			g.logger.Error("failed to subscribe to NATS", zap.String("subject", subject), zap.Error(err))
			delete(g.listeners, subject)
			return
		}
		g.natsSubs[subject] = sub
		g.logger.Info("subscribed to subject", zap.String("subject", subject))
	}
	g.listeners[subject][c] = true
}

func (g *Gateway) unsubscribe(c *client, subject string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeListener(c, subject)
}

func (g *Gateway) dropClient(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for subject := range g.listeners {
		g.removeListener(c, subject)
	}
}

// removeListener assumes g.mu is held.
func (g *Gateway) removeListener(c *client, subject string) {
	clients, ok := g.listeners[subject]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		if sub, ok := g.natsSubs[subject]; ok {
			sub.Unsubscribe()
			delete(g.natsSubs, subject)
		}
		delete(g.listeners, subject)
		g.logger.Info("dropped subject, no listeners left", zap.String("subject", subject))
	}
}

func (g *Gateway) broadcast(subject string, data []byte) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.listeners[subject] {
		select {
		case c.send <- data:
		default:
			// Slow consumer, drop the event rather than block.
		}
	}
}
