package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// GeneratorFeed reads prices from a local replay service instead of the live
// broker. The generator serves a complete price snapshot per poll and reports
// "ENDED" once the recorded session is exhausted, which the runner treats as
// the end of the trading day.
type GeneratorFeed struct {
	http *resty.Client
}

func NewGeneratorFeed(cfg Config) *GeneratorFeed {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &GeneratorFeed{
		http: resty.New().
			SetBaseURL(cfg.GeneratorURL).
			SetTimeout(timeout),
	}
}

type generatorResponse struct {
	Data json.RawMessage `json:"data"`
}

// Prices returns the current snapshot of all replayed symbols. It returns
// ErrFeedEnded once the generator has run out of recorded ticks.
func (g *GeneratorFeed) Prices(ctx context.Context) (map[string]float64, error) {
	resp, err := g.http.R().SetContext(ctx).Get("/prices")
	if err != nil {
		return nil, &RecoverableFetchError{Op: "generator prices", Err: err}
	}
	if resp.StatusCode() != 200 {
		return nil, &RecoverableFetchError{Op: "generator prices", Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(resp.Body()))}
	}

	var parsed generatorResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, &RecoverableFetchError{Op: "generator prices", Err: err}
	}

	var sentinel string
	if err := json.Unmarshal(parsed.Data, &sentinel); err == nil && sentinel == "ENDED" {
		return nil, ErrFeedEnded
	}

	var prices map[string]float64
	if err := json.Unmarshal(parsed.Data, &prices); err != nil {
		return nil, &RecoverableFetchError{Op: "generator prices", Err: err}
	}
	return prices, nil
}

// Price returns the replayed price for a single symbol.
func (g *GeneratorFeed) Price(ctx context.Context, symbol string) (float64, error) {
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Get("/price")
	if err != nil {
		return 0, &RecoverableFetchError{Op: "generator price", Err: err}
	}
	if resp.StatusCode() != 200 {
		return 0, &RecoverableFetchError{Op: "generator price", Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(resp.Body()))}
	}

	var parsed generatorResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return 0, &RecoverableFetchError{Op: "generator price", Err: err}
	}

	var sentinel string
	if err := json.Unmarshal(parsed.Data, &sentinel); err == nil && sentinel == "ENDED" {
		return 0, ErrFeedEnded
	}

	var price float64
	if err := json.Unmarshal(parsed.Data, &price); err != nil {
		return 0, &RecoverableFetchError{Op: "generator price", Err: err}
	}
	return price, nil
}
