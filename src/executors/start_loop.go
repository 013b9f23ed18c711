package executors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"equityrunner/src/account"
	"equityrunner/src/connectors"
	"equityrunner/src/model"
	"equityrunner/src/repository"
	"equityrunner/src/utils"
	"equityrunner/src/wallet"
)

// priceSource abstracts where the per-cycle prices come from: the broker's
// LTP endpoint in deployment, the generator harness for replays.
type priceSource interface {
	Fetch(ctx context.Context, symbols []string) (map[string]float64, error)
}

type brokerSource struct {
	client   *connectors.Client
	exchange string

	// cache holds the last websocket tick per symbol; it fills the gaps a
	// batched LTP poll leaves behind. Nil when the stream is not configured.
	cache *connectors.PriceCache
}

func (s *brokerSource) Fetch(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices, err := s.client.FetchPrices(ctx, s.exchange, symbols)
	if err != nil {
		if s.cache == nil {
			return nil, err
		}
		prices = map[string]float64{}
	}
	if s.cache != nil {
		for _, symbol := range symbols {
			if _, ok := prices[symbol]; ok {
				continue
			}
			if price, ok := s.cache.Get(symbol); ok {
				prices[symbol] = price
			}
		}
	}
	if len(prices) == 0 && err != nil {
		return nil, err
	}
	return prices, nil
}

type generatorSource struct {
	feed *connectors.GeneratorFeed
}

func (s *generatorSource) Fetch(ctx context.Context, _ []string) (map[string]float64, error) {
	return s.feed.Prices(ctx)
}

// exceptionStore persists per-symbol failures swallowed during a cycle.
type exceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
}

type runner struct {
	cfg        Config
	acct       *account.Account
	source     priceSource
	trend      *priceTrend
	exceptions exceptionStore
	now        func() time.Time
}

// StartLoop wires the session together and polls until the market closes,
// the feed ends, or the context is cancelled.
func StartLoop(ctx context.Context) error {
	cfg := GetConfig()

	holidays, err := utils.ParseHolidays(cfg.Holidays)
	if err != nil {
		return err
	}

	today := time.Now()
	if !isTradingDay(today, holidays) {
		logger.Info("market closed today, nothing to do")
		return nil
	}

	sessionStart, err := clockTime(today, cfg.SessionStart)
	if err != nil {
		return err
	}
	sessionEnd, err := clockTime(today, cfg.SessionEnd)
	if err != nil {
		return err
	}
	buyStart, err := clockTime(today, cfg.BuyWindowStart)
	if err != nil {
		return err
	}
	buyEnd, err := clockTime(today, cfg.BuyWindowEnd)
	if err != nil {
		return err
	}

	kite := connectors.NewClient(connectors.GetConfig())

	startingCash := cfg.StartingCash
	if startingCash == 0 {
		startingCash, err = kite.Margins(ctx)
		if err != nil {
			return fmt.Errorf("fetch starting margin: %w", err)
		}
	}

	ledger, err := wallet.Load(ctx, repository.NewWalletRepository(), startingCash, holidays)
	if err != nil {
		return err
	}

	trend := newPriceTrend()
	acct := account.New(
		account.Config{
			Allocation:          cfg.Allocation,
			Exchange:            cfg.Exchange,
			ForceLiquidationAge: cfg.ForceLiquidationAge,
		},
		kite, kite, trend.Rising, trend.Falling,
		ledger,
		repository.NewTrackedStockRepository(),
		repository.NewHoldingRepository(),
		holidays,
	)

	// Broker-reported average prices trump whatever entry price we stored.
	brokerAvg := map[string]float64{}
	if cfg.FeedMode != "generator" {
		held, err := kite.Holdings(ctx)
		if err != nil {
			logger.WithError(err).Warn("holdings fetch failed, keeping stored entry prices")
		} else {
			for _, h := range held {
				brokerAvg[h.Symbol] = h.AveragePrice
			}
		}
	}

	if err := acct.Load(ctx, startingCash, brokerAvg); err != nil {
		return err
	}

	for _, symbol := range splitList(cfg.Watchlist) {
		acct.Track(&model.TrackedStock{Symbol: symbol, Exchange: cfg.Exchange, FirstLoad: true})
	}
	for _, symbol := range splitList(cfg.ShortWatchlist) {
		acct.TrackShort(&model.TrackedStock{Symbol: symbol, Exchange: cfg.Exchange, FirstLoad: true})
	}

	var source priceSource
	if cfg.FeedMode == "generator" {
		source = &generatorSource{feed: connectors.NewGeneratorFeed(connectors.GetConfig())}
	} else {
		broker := &brokerSource{client: kite, exchange: cfg.Exchange}
		if connCfg := connectors.GetConfig(); connCfg.BrokerWSURL != "" {
			broker.cache = connectors.NewPriceCache()
			stream := connectors.NewTickerStream(connCfg, broker.cache)
			go func() {
				if err := stream.Run(ctx, acct.Symbols()); err != nil {
					logger.WithError(err).Warn("ticker stream stopped")
				}
			}()
		}
		source = broker
	}

	r := &runner{
		cfg:        cfg,
		acct:       acct,
		source:     source,
		trend:      trend,
		exceptions: repository.NewExceptionRepository(),
		now:        time.Now,
	}
	return r.run(ctx, sessionStart, sessionEnd, buyStart, buyEnd)
}

func (r *runner) run(ctx context.Context, sessionStart, sessionEnd, buyStart, buyEnd time.Time) error {
	ticker := time.NewTicker(r.cfg.PreOpenPeriod)
	defer ticker.Stop()

	inSession := false
	for {
		select {
		case <-ctx.Done():
			logger.Info("loop stopped")
			return nil

		case <-ticker.C:
			now := r.now()
			if now.Before(sessionStart) {
				logger.Info("waiting for session open")
				continue
			}
			if !inSession {
				ticker.Reset(r.cfg.LoopPeriod)
				inSession = true
				logger.WithField("until", sessionEnd.Format("15:04")).Info("session open")
			}
			if now.After(sessionEnd) {
				return r.settle(ctx)
			}

			inBuyWindow := !now.Before(buyStart) && !now.After(buyEnd)
			if err := r.cycle(ctx, inBuyWindow); err != nil {
				if errors.Is(err, connectors.ErrFeedEnded) {
					logger.Info("price feed ended, settling")
					return r.settle(ctx)
				}
				return err
			}
		}
	}
}

// cycle runs one polling pass: fetch prices, update the trend history, then
// the single-threaded decision phase.
func (r *runner) cycle(ctx context.Context, inBuyWindow bool) error {
	symbols := r.acct.Symbols()
	if len(symbols) == 0 {
		return nil
	}

	prices, err := r.source.Fetch(ctx, symbols)
	if err != nil {
		if errors.Is(err, connectors.ErrFeedEnded) {
			return err
		}
		var rec *connectors.RecoverableFetchError
		if errors.As(err, &rec) {
			logger.WithError(err).Warn("price fetch failed, skipping cycle")
			return nil
		}
		return err
	}
	r.trend.Observe(prices)

	report := &account.CycleReport{}
	if inBuyWindow {
		r.acct.EvaluateBuys(ctx, report)
		r.acct.EvaluateShorts(ctx, report)
	}
	r.acct.RefreshAges()
	r.acct.Sweep(ctx, prices, report)

	r.recordFailures(ctx, report)
	logger.WithFields(map[string]interface{}{
		"symbols": len(symbols),
		"opened":  report.Opened,
		"closed":  report.Closed,
		"errors":  len(report.Errors),
	}).Info("cycle complete")
	return nil
}

// settle runs the end-of-day pass and writes the surviving state back.
func (r *runner) settle(ctx context.Context) error {
	report := &account.CycleReport{}
	r.acct.SettleEndOfDay(ctx, report)
	r.recordFailures(ctx, report)

	if err := r.acct.Persist(ctx); err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}
	logger.WithField("closed", report.Closed).Info("session settled")
	return nil
}

func (r *runner) recordFailures(ctx context.Context, report *account.CycleReport) {
	for _, fail := range report.Errors {
		exc := &model.Exception{
			Service: "runner",
			Module:  "account",
			Method:  "cycle",
			Symbol:  fail.Symbol,
			Message: fail.Err.Error(),
			Level:   "error",
		}
		if err := r.exceptions.Create(ctx, exc); err != nil {
			logger.WithError(err).Error("failed to persist exception record")
		}
	}
}

func isTradingDay(t time.Time, holidays utils.HolidaySet) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !holidays.Contains(t)
}

// clockTime pins an HH:MM wall-clock string onto day's date.
func clockTime(day time.Time, hhmm string) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock time %q: %w", hhmm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, day.Location()), nil
}

func splitList(csv string) []string {
	var out []string
	for _, raw := range strings.Split(csv, ",") {
		s := strings.TrimSpace(raw)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
