package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// PriceCache holds the most recent traded price per symbol. Writes come from
// the ticker stream goroutine; reads come from the runner loop.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]float64)}
}

func (c *PriceCache) Set(symbol string, price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()
}

func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[symbol]
	return price, ok
}

// Snapshot returns a copy of all cached prices.
func (c *PriceCache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]float64, len(c.prices))
	for symbol, price := range c.prices {
		out[symbol] = price
	}
	return out
}

// TickerStream consumes the broker's streaming quote feed over a websocket
// and keeps a PriceCache warm. The REST LTP path remains the source of truth
// for the runner loop; the stream only reduces how stale the cache gets
// between polls.
type TickerStream struct {
	wsURL  string
	apiKey string
	token  string
	cache  *PriceCache
	dialer *websocket.Dialer
}

func NewTickerStream(cfg Config, cache *PriceCache) *TickerStream {
	return &TickerStream{
		wsURL:  cfg.BrokerWSURL,
		apiKey: cfg.BrokerAPIKey,
		token:  cfg.BrokerToken,
		cache:  cache,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

type tickMessage struct {
	Symbol    string  `json:"tradingsymbol"`
	LastPrice float64 `json:"last_price"`
}

type subscribeMessage struct {
	Action  string   `json:"a"`
	Symbols []string `json:"v"`
}

// Run connects, subscribes, and feeds ticks into the cache until the context
// is cancelled. Connection failures trigger a reconnect with backoff; the
// runner keeps working off REST polls in the meantime.
func (t *TickerStream) Run(ctx context.Context, symbols []string) error {
	if t.wsURL == "" {
		logger.Info("No ticker stream URL configured, running on REST polls only")
		return nil
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := t.consume(ctx, symbols)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		logger.WithError(err).Warnf("Ticker stream dropped, reconnecting in %s", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (t *TickerStream) consume(ctx context.Context, symbols []string) error {
	header := http.Header{}
	header.Set("X-Kite-Version", "3")
	header.Set("Authorization", fmt.Sprintf("token %s:%s", t.apiKey, t.token))

	conn, _, err := t.dialer.DialContext(ctx, t.wsURL, header)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Action: "subscribe", Symbols: symbols}); err != nil {
		return fmt.Errorf("ws subscribe failed: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"symbols": len(symbols),
	}).Info("Ticker stream connected")

	// Close from a watcher goroutine so ReadMessage unblocks on cancel.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ws read failed: %w", err)
		}

		var tick tickMessage
		if err := json.Unmarshal(msg, &tick); err != nil {
			logger.WithError(err).Debug("Skipping malformed tick frame")
			continue
		}
		if tick.Symbol == "" {
			continue
		}

		t.cache.Set(tick.Symbol, tick.LastPrice)
	}
}
