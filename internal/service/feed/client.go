package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"TapeFlow/internal/domain/models"
	"TapeFlow/internal/domain/repository"
	"TapeFlow/pkg/logger"
)

// Config holds the market data connection settings.
type Config struct {
	WebSocketURL   string
	APIKey         string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Client implements a MarketStream over a WebSocket feed that delivers
// trade prints and order book snapshots.
type Client struct {
	cfg Config
	log *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

func New(cfg Config, log *logger.Logger) repository.MarketStream {
	return &Client{cfg: cfg, log: log}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := c.cfg.WebSocketURL
	if c.cfg.APIKey != "" {
		u = fmt.Sprintf("%s?token=%s", u, c.cfg.APIKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Info("feed connected", logger.String("url", c.cfg.WebSocketURL))
	return nil
}

// Subscribe requests trade and book updates for the configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	ok := c.connected
	c.mu.Unlock()
	if conn == nil || !ok {
		return fmt.Errorf("feed not connected")
	}

	msg := map[string]interface{}{
		"action":   "subscribe",
		"symbols":  c.cfg.Symbols,
		"channels": []string{"trades", "book"},
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("feed subscribe: %w", err)
	}
	c.log.Info("feed subscribed", logger.Strings("symbols", c.cfg.Symbols))
	return nil
}

type wireTrade struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Side   string  `json:"side"`
	TS     int64   `json:"ts"` // ms
}

type wireBook struct {
	Symbol string       `json:"symbol"`
	TS     int64        `json:"ts"` // ms
	Bids   [][2]float64 `json:"bids"`
	Asks   [][2]float64 `json:"asks"`
}

type wireFrame struct {
	Type   string      `json:"type"`
	Trades []wireTrade `json:"trades,omitempty"`
	Book   *wireBook   `json:"book,omitempty"`
}

// Read streams trades, book snapshots, and errors. The read loop exits
// on the first connection error; the caller decides whether to
// reconnect.
func (c *Client) Read(ctx context.Context) (<-chan models.Trade, <-chan models.BookSnapshot, <-chan error) {
	trades := make(chan models.Trade, 1024)
	books := make(chan models.BookSnapshot, 256)
	errs := make(chan error, 1)

	go c.pingLoop(ctx)

	go func() {
		defer close(trades)
		defer close(books)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				errs <- fmt.Errorf("feed connection lost")
				return
			}

			_, raw, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("feed read: %w", err)
				return
			}

			var frame wireFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				// non-data frames (acks, heartbeats) are ignored
				continue
			}

			switch frame.Type {
			case "trade":
				for _, wt := range frame.Trades {
					t := decodeTrade(wt)
					if !t.Valid() {
						continue
					}
					select {
					case trades <- t:
					default:
						// consumer stalled, drop the print
					}
				}
			case "book":
				if frame.Book == nil {
					continue
				}
				b := decodeBook(*frame.Book)
				select {
				case books <- b:
				default:
				}
			}
		}
	}()

	return trades, books, errs
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn != nil {
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

// Reconnect closes the connection, waits the configured delay, and
// re-establishes the subscription.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.ReconnectDelay):
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the connection.
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

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func decodeTrade(wt wireTrade) models.Trade {
	side := models.SideBuy
	if wt.Side == "sell" {
		side = models.SideSell
	}
	return models.Trade{
		Symbol:    wt.Symbol,
		Timestamp: time.UnixMilli(wt.TS),
		Side:      side,
		Price:     wt.Price,
		Volume:    wt.Volume,
	}
}

func decodeBook(wb wireBook) models.BookSnapshot {
	snap := models.BookSnapshot{
		Symbol:    wb.Symbol,
		Timestamp: time.UnixMilli(wb.TS),
		Bids:      make([]models.BookLevel, 0, len(wb.Bids)),
		Asks:      make([]models.BookLevel, 0, len(wb.Asks)),
	}
	for _, lvl := range wb.Bids {
		snap.Bids = append(snap.Bids, models.BookLevel{Price: lvl[0], Volume: lvl[1]})
	}
	for _, lvl := range wb.Asks {
		snap.Asks = append(snap.Asks, models.BookLevel{Price: lvl[0], Volume: lvl[1]})
	}
	return snap
}
