package signalfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client implements a SignalStream backed by an upstream WebSocket producer.
// Frames look like {"type":"signal","data":[{...signal...}]}; other frame types are ignored.
type Client struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	logger         *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a new WebSocket SignalStream.
func New(apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration, l *logger.Logger) *Client {
	if l == nil {
		l = logger.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		logger:         l,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := c.websocketURL
	if c.apiKey != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "token=" + url.QueryEscape(c.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("signal feed connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("signal feed connected", logger.String("url", c.websocketURL))
	return nil
}

// Subscribe subscribes to configured symbols. An empty list subscribes to everything.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return fmt.Errorf("signal feed not connected")
	}
	if len(c.symbols) == 0 {
		return c.conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": "*"})
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.logger.Info("signal feed subscribed", logger.Strings("symbols", c.symbols))
	return nil
}

type feedSignal struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Symbol     string  `json:"s"`
	Timeframe  string  `json:"tf"`
	Confidence float64 `json:"c"`
	T          int64   `json:"t"` // ms
}

type feedMessage struct {
	Type string       `json:"type"`
	Data []feedSignal `json:"data"`
}

func (f feedSignal) toSignal() *models.Signal {
	s := &models.Signal{
		ID:         f.ID,
		SignalType: f.Type,
		Symbol:     f.Symbol,
		Timeframe:  f.Timeframe,
		Confidence: f.Confidence,
		Source:     "feed",
	}
	if f.T > 0 {
		s.EmittedAt = time.UnixMilli(f.T).UTC()
	}
	return s
}

// Read streams signals and errors until the context ends or the connection breaks.
func (c *Client) Read(ctx context.Context) (<-chan *models.Signal, <-chan error) {
	signals := make(chan *models.Signal, 1024)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.conn != nil {
					_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				}
				c.mu.Unlock()
			}
		}
	}()

	go func() {
		defer close(done)
		defer close(signals)
		defer close(errs)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			errs <- fmt.Errorf("signal feed conn nil")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("signal feed read: %w", err)
				return
			}
			var m feedMessage
			if err := json.Unmarshal(b, &m); err != nil || m.Type != "signal" {
				continue
			}
			for _, d := range m.Data {
				select {
				case signals <- d.toSignal():
				default:
					c.logger.Warn("signal feed backpressure drop", logger.String("symbol", d.Symbol))
				}
			}
		}
	}()

	return signals, errs
}

// Reconnect closes and reconnects after the configured delay.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

var _ drepo.SignalStream = (*Client)(nil)
