// REST API CLIENT FOR THE EQUITY BROKER (KITE-STYLE HTTP API)
// RESTY ONLY + INTERNAL RETRY ON READ PATHS
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"equityrunner/src/model"
)

// -----------------------------
// CONFIG
// -----------------------------
const (
	// Default retry configuration for idempotent reads. Order placement is
	// never retried internally.
	defaultReadRetryAttempts = 3
	defaultReadRetryDelay    = 500 * time.Millisecond
	defaultReadRetryBackoff  = 4 * time.Second

	// The broker caps a single LTP request at 300 instruments.
	ltpBatchSize = 300

	// Bounded fan-out when a fetch spans multiple LTP batches.
	ltpMaxParallel = 4
)

// -----------------------------
// API RESPONSE WRAPPER
// -----------------------------
type brokerResponse struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// -----------------------------
// A) AUTHENTICATED CLIENT
// -----------------------------
type Client struct {
	apiKey  string
	token   string
	baseURL string

	// reads carries retry behaviour; orders never retries, so a rejected or
	// timed-out placement is surfaced exactly once.
	reads  *resty.Client
	orders *resty.Client
}

func isRetryableRead(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.BrokerBaseURL
	if baseURL == "" {
		baseURL = "https://api.kite.trade"
		logger.Warnf("No broker base URL provided, using default: %s", baseURL)
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retries := cfg.ReadRetries
	if retries <= 0 {
		retries = defaultReadRetryAttempts - 1
	}

	readClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(defaultReadRetryDelay).
		SetRetryMaxWaitTime(defaultReadRetryBackoff).
		AddRetryCondition(isRetryableRead)

	orderClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	return &Client{
		apiKey:  cfg.BrokerAPIKey,
		token:   cfg.BrokerToken,
		baseURL: baseURL,
		reads:   readClient,
		orders:  orderClient,
	}
}

func (c *Client) authorize(req *resty.Request) *resty.Request {
	return req.
		SetHeader("X-Kite-Version", "3").
		SetHeader("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.token))
}

func decodeResponse(raw []byte, status int) (*brokerResponse, error) {
	var parsed brokerResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", status, string(raw))
	}

	if parsed.Status != "success" {
		return &parsed, fmt.Errorf("%s: %s", DescribeErrorType(parsed.ErrorType), parsed.Message)
	}
	return &parsed, nil
}

func (c *Client) doRead(ctx context.Context, op, path string, query map[string]string, multi map[string][]string) (*brokerResponse, error) {
	req := c.authorize(c.reads.R().SetContext(ctx))
	if query != nil {
		req = req.SetQueryParams(query)
	}
	if multi != nil {
		req = req.SetQueryParamsFromValues(multi)
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, &RecoverableFetchError{Op: op, Err: err}
	}

	parsed, err := decodeResponse(resp.Body(), resp.StatusCode())
	if err != nil {
		return nil, &RecoverableFetchError{Op: op, Err: err}
	}
	return parsed, nil
}

// -----------------------------
// B) TRADING METHODS
// -----------------------------

// productCode maps the internal product type to the broker's order product.
func productCode(product model.ProductType) string {
	if product == model.ProductIntraday {
		return "MIS"
	}
	return "CNC"
}

// transactionType maps an order side to the broker's transaction type.
// A short entry and a long exit are both plain SELL orders on the cash
// segment.
func transactionType(side model.PositionSide) string {
	if side == model.SideShort {
		return "SELL"
	}
	return "BUY"
}

// PlaceOrder submits a regular market order and returns the broker order id.
// The broker acknowledges acceptance with a numeric order id; anything else
// is a rejection. Placement is never retried internally: a timeout here is
// ambiguous and must be surfaced to the caller untouched.
func (c *Client) PlaceOrder(ctx context.Context, symbol, exchange string, quantity int, side model.PositionSide, product model.ProductType) (string, error) {
	clientRef := uuid.New().String()[:8]

	resp, err := c.authorize(c.orders.R().SetContext(ctx)).
		SetFormData(map[string]string{
			"tradingsymbol":    symbol,
			"exchange":         exchange,
			"transaction_type": transactionType(side),
			"quantity":         fmt.Sprintf("%d", quantity),
			"product":          productCode(product),
			"order_type":       "MARKET",
			"validity":         "DAY",
			"tag":              clientRef,
		}).
		Post("/orders/regular")
	if err != nil {
		return "", fmt.Errorf("order placement failed for %s: %w", symbol, err)
	}

	parsed, err := decodeResponse(resp.Body(), resp.StatusCode())
	if err != nil {
		reason := err.Error()
		if parsed != nil && parsed.Message != "" {
			reason = parsed.Message
		}
		return "", &OrderRejectedError{Symbol: symbol, Reason: reason}
	}

	var data struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(parsed.Data, &data); err != nil || !isNumeric(data.OrderID) {
		return "", &OrderRejectedError{Symbol: symbol, Reason: fmt.Sprintf("non-numeric order id %q", data.OrderID)}
	}

	logger.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"exchange":  exchange,
		"side":      transactionType(side),
		"quantity":  quantity,
		"product":   productCode(product),
		"orderID":   data.OrderID,
		"clientRef": clientRef,
	}).Info("Order accepted")

	return data.OrderID, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Place satisfies the order executor contract used by the position engine.
func (c *Client) Place(ctx context.Context, symbol string, quantity int, side model.PositionSide, product model.ProductType, exchange string) error {
	_, err := c.PlaceOrder(ctx, symbol, exchange, quantity, side, product)
	return err
}

// -----------------------------
// C) MARKET DATA METHODS
// -----------------------------

type quoteDepthEntry struct {
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Orders   int     `json:"orders"`
}

type quoteData struct {
	LastPrice float64 `json:"last_price"`
	Depth     struct {
		Buy  []quoteDepthEntry `json:"buy"`
		Sell []quoteDepthEntry `json:"sell"`
	} `json:"depth"`
}

// Quote fetches the full quote for a single instrument, including the top
// five levels of market depth on both sides.
func (c *Client) Quote(ctx context.Context, exchange, symbol string) (*quoteData, error) {
	instrument := fmt.Sprintf("%s:%s", exchange, symbol)

	resp, err := c.doRead(ctx, "quote", "/quote", map[string]string{"i": instrument}, nil)
	if err != nil {
		return nil, err
	}

	var parsed map[string]quoteData
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, &RecoverableFetchError{Op: "quote", Err: err}
	}

	q, ok := parsed[instrument]
	if !ok {
		return nil, &RecoverableFetchError{Op: "quote", Err: fmt.Errorf("no quote for %s", instrument)}
	}
	return &q, nil
}

// Depth returns the order book depth for an instrument. Satisfies the depth
// provider contract used by the position engine for exit-liquidity checks.
func (c *Client) Depth(ctx context.Context, exchange, symbol string) (*model.MarketDepth, error) {
	q, err := c.Quote(ctx, exchange, symbol)
	if err != nil {
		return nil, err
	}

	depth := &model.MarketDepth{}
	for _, e := range q.Depth.Buy {
		depth.Buy = append(depth.Buy, model.DepthEntry{Price: e.Price, Quantity: e.Quantity, Orders: e.Orders})
	}
	for _, e := range q.Depth.Sell {
		depth.Sell = append(depth.Sell, model.DepthEntry{Price: e.Price, Quantity: e.Quantity, Orders: e.Orders})
	}
	return depth, nil
}

// LTP fetches last traded prices for up to ltpBatchSize instruments in a
// single call. Instruments must already carry their exchange prefix.
func (c *Client) LTP(ctx context.Context, instruments []string) (map[string]float64, error) {
	if len(instruments) == 0 {
		return map[string]float64{}, nil
	}
	if len(instruments) > ltpBatchSize {
		return nil, fmt.Errorf("LTP batch of %d exceeds the %d instrument limit", len(instruments), ltpBatchSize)
	}

	resp, err := c.doRead(ctx, "ltp", "/quote/ltp", nil, map[string][]string{"i": instruments})
	if err != nil {
		return nil, err
	}

	var parsed map[string]struct {
		LastPrice float64 `json:"last_price"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, &RecoverableFetchError{Op: "ltp", Err: err}
	}

	prices := make(map[string]float64, len(parsed))
	for instrument, entry := range parsed {
		if entry.LastPrice > 0 {
			prices[stripExchange(instrument)] = entry.LastPrice
		}
	}
	return prices, nil
}

func stripExchange(instrument string) string {
	if i := strings.IndexByte(instrument, ':'); i >= 0 {
		return instrument[i+1:]
	}
	return instrument
}

// FetchPrices resolves last traded prices for an arbitrary symbol list,
// splitting into broker-sized batches fetched with bounded parallelism.
// Failed batches are logged and skipped; symbols without a price are simply
// absent from the result, and the caller holds its positions for the cycle.
func (c *Client) FetchPrices(ctx context.Context, exchange string, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	instruments := make([]string, 0, len(symbols))
	for _, s := range symbols {
		instruments = append(instruments, fmt.Sprintf("%s:%s", exchange, s))
	}

	var batches [][]string
	for start := 0; start < len(instruments); start += ltpBatchSize {
		end := start + ltpBatchSize
		if end > len(instruments) {
			end = len(instruments)
		}
		batches = append(batches, instruments[start:end])
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		merged  = make(map[string]float64, len(symbols))
		failed  int
		limiter = make(chan struct{}, ltpMaxParallel)
	)

	for _, batch := range batches {
		wg.Add(1)
		go func(batch []string) {
			defer wg.Done()
			limiter <- struct{}{}
			defer func() { <-limiter }()

			prices, err := c.LTP(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				logger.WithFields(map[string]interface{}{
					"batchSize": len(batch),
				}).WithError(err).Warn("LTP batch failed, symbols will be retried next cycle")
				return
			}
			for symbol, price := range prices {
				merged[symbol] = price
			}
		}(batch)
	}
	wg.Wait()

	if failed == len(batches) {
		return nil, &RecoverableFetchError{Op: "ltp", Err: fmt.Errorf("all %d price batches failed", failed)}
	}
	return merged, nil
}

// -----------------------------
// D) ACCOUNT METHODS
// -----------------------------

// Margins returns the available cash balance on the equity segment.
func (c *Client) Margins(ctx context.Context) (float64, error) {
	resp, err := c.doRead(ctx, "margins", "/user/margins/equity", nil, nil)
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Available struct {
			Cash float64 `json:"cash"`
		} `json:"available"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return 0, &RecoverableFetchError{Op: "margins", Err: err}
	}
	return parsed.Available.Cash, nil
}

// BrokerHolding is a single demat holding as reported by the broker.
type BrokerHolding struct {
	Symbol       string  `json:"tradingsymbol"`
	Exchange     string  `json:"exchange"`
	Quantity     int     `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	LastPrice    float64 `json:"last_price"`
}

// Holdings fetches the demat holdings for the account, used to reconcile
// persisted holdings against what the broker actually reports at startup.
func (c *Client) Holdings(ctx context.Context) ([]BrokerHolding, error) {
	resp, err := c.doRead(ctx, "holdings", "/portfolio/holdings", nil, nil)
	if err != nil {
		return nil, err
	}

	var parsed []BrokerHolding
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, &RecoverableFetchError{Op: "holdings", Err: err}
	}
	return parsed, nil
}
