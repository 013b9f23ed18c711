package account

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"equityrunner/src/model"
	"equityrunner/src/stage"
	"equityrunner/src/utils"
)

// Signal is the external buy/short predicate. Evaluating which symbols are
// worth entering lives outside the orchestrator.
type Signal func(symbol string) bool

// StockStore persists tracked symbols between sessions.
type StockStore interface {
	FindAll(ctx context.Context) ([]model.TrackedStock, error)
	Upsert(ctx context.Context, stock *model.TrackedStock) error
	DeleteBySymbol(ctx context.Context, symbol string) error
}

// HoldingStore persists end-of-session holdings. Positions are never stored
// directly; they are rebuilt from holdings at the next session start.
type HoldingStore interface {
	FindAll(ctx context.Context) ([]model.Stage, error)
	Upsert(ctx context.Context, holding *model.Stage) error
	DeleteBySymbol(ctx context.Context, symbol string) error
}

// Ledger is the slice of the wallet ledger the orchestrator mutates.
type Ledger interface {
	Headroom() float64
	Accumulate(ctx context.Context, amount float64) error
}

// Config fixes the orchestrator's cash arithmetic and exit tuning for the
// session. No global state; the value is passed in at construction.
type Config struct {
	Allocation          float64 // cash reserved per tracked symbol slot
	Exchange            string
	ForceLiquidationAge int // business days before a position becomes force-closable
	Stage               stage.Config
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = "BSE"
	}
	if c.ForceLiquidationAge == 0 {
		c.ForceLiquidationAge = 16
	}
	return c
}

// SymbolError records one symbol's failure within a cycle. A failing symbol
// never aborts the cycle for the others.
type SymbolError struct {
	Symbol string
	Err    error
}

// CycleReport aggregates what one orchestration pass did.
type CycleReport struct {
	Opened int
	Closed int
	Errors []SymbolError
}

func (r *CycleReport) fail(symbol string, err error) {
	r.Errors = append(r.Errors, SymbolError{Symbol: symbol, Err: err})
	logger.WithError(err).WithField("symbol", symbol).Error("symbol evaluation failed, continuing cycle")
}

// Account owns the tracked-symbol maps, the position pools, and the cash
// accumulator. All mutation runs on a single control flow; the only
// concurrency in the system is upstream price fetching.
type Account struct {
	Tracked      map[string]*model.TrackedStock
	ShortTracked map[string]*model.TrackedStock

	Positions      map[string]*stage.PositionStage
	ShortPositions map[string]*stage.PositionStage
	Holdings       map[string]*model.Stage

	AvailableCash float64
	StartingCash  float64

	cfg         Config
	exec        stage.OrderExecutor
	depth       stage.DepthProvider
	buySignal   Signal
	shortSignal Signal
	ledger      Ledger
	stocks      StockStore
	holdings    HoldingStore
	holidays    utils.HolidaySet

	now func() time.Time

	// symbols present at session start, kept to reconcile what was sold.
	initialStocks   []string
	initialHoldings []string
}

func New(cfg Config, exec stage.OrderExecutor, depth stage.DepthProvider, buySignal, shortSignal Signal,
	ledger Ledger, stocks StockStore, holdings HoldingStore, holidays utils.HolidaySet) *Account {
	return &Account{
		Tracked:        make(map[string]*model.TrackedStock),
		ShortTracked:   make(map[string]*model.TrackedStock),
		Positions:      make(map[string]*stage.PositionStage),
		ShortPositions: make(map[string]*stage.PositionStage),
		Holdings:       make(map[string]*model.Stage),
		cfg:            cfg.withDefaults(),
		exec:           exec,
		depth:          depth,
		buySignal:      buySignal,
		shortSignal:    shortSignal,
		ledger:         ledger,
		stocks:         stocks,
		holdings:       holdings,
		holidays:       holidays,
		now:            time.Now,
	}
}

// Load pulls tracked symbols and holdings from the repositories, rebuilds
// positions from holdings, and sets the session's cash baseline. Holdings
// carry an allocation slot that was debited in an earlier session, so only
// the tracked symbols without a holding reduce today's available cash.
func (a *Account) Load(ctx context.Context, startingCash float64, brokerAvgPrices map[string]float64) error {
	a.AvailableCash = startingCash
	a.StartingCash = startingCash

	stocks, err := a.stocks.FindAll(ctx)
	if err != nil {
		return err
	}
	for i := range stocks {
		stock := stocks[i]
		a.Tracked[stock.Symbol] = &stock
		a.initialStocks = append(a.initialStocks, stock.Symbol)
	}

	holdings, err := a.holdings.FindAll(ctx)
	if err != nil {
		return err
	}
	for i := range holdings {
		h := holdings[i]
		h.Target = model.TargetHolding

		// the demat average price can drift from what we recorded; the
		// broker's figure is the one the next sale settles against
		if avg, ok := brokerAvgPrices[h.Symbol]; ok && avg > 0 {
			h.EntryPrice = avg
		}
		a.Holdings[h.Symbol] = &h
		a.initialHoldings = append(a.initialHoldings, h.Symbol)

		if stock, ok := a.Tracked[h.Symbol]; ok {
			stock.LastQuantity = h.Quantity
		}
	}

	a.StartingCash += float64(len(a.Holdings)) * a.cfg.Allocation
	a.AvailableCash -= float64(len(a.Tracked)-len(a.Holdings)) * a.cfg.Allocation

	a.ConvertHoldingsToPositions()

	logger.WithFields(map[string]interface{}{
		"tracked":       len(a.Tracked),
		"holdings":      len(a.Holdings),
		"availableCash": a.AvailableCash,
	}).Info("account loaded")
	return nil
}

// Symbols lists every symbol the next price fetch must cover: both tracking
// pools plus holdings that have not been converted yet.
func (a *Account) Symbols() []string {
	seen := make(map[string]struct{}, len(a.Tracked)+len(a.ShortTracked)+len(a.Holdings))
	for symbol := range a.Tracked {
		seen[symbol] = struct{}{}
	}
	for symbol := range a.ShortTracked {
		seen[symbol] = struct{}{}
	}
	for symbol := range a.Holdings {
		seen[symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// FreeSlots is how many more symbols the available cash can admit.
func (a *Account) FreeSlots() int {
	if a.cfg.Allocation <= 0 {
		return 0
	}
	return int(a.AvailableCash / a.cfg.Allocation)
}

// Track admits a symbol to the long pool and debits its allocation slot up
// front. Returns false when no slot is free or the symbol is already tracked.
func (a *Account) Track(stock *model.TrackedStock) bool {
	if _, ok := a.Tracked[stock.Symbol]; ok {
		return false
	}
	if a.FreeSlots() < 1 {
		return false
	}
	if stock.Exchange == "" {
		stock.Exchange = a.cfg.Exchange
	}
	stock.FirstLoad = true
	stock.CreatedAt = a.now()

	a.Tracked[stock.Symbol] = stock
	a.AvailableCash -= a.cfg.Allocation

	logger.WithFields(map[string]interface{}{
		"symbol":        stock.Symbol,
		"availableCash": a.AvailableCash,
	}).Info("symbol admitted to tracking")
	return true
}

// TrackShort admits a symbol to the independent short pool. Shorts are
// always intraday and carry their own cash bookkeeping.
func (a *Account) TrackShort(stock *model.TrackedStock) bool {
	if _, ok := a.ShortTracked[stock.Symbol]; ok {
		return false
	}
	if a.FreeSlots() < 1 {
		return false
	}
	if stock.Exchange == "" {
		stock.Exchange = a.cfg.Exchange
	}
	stock.FirstLoad = true
	stock.CreatedAt = a.now()

	a.ShortTracked[stock.Symbol] = stock
	a.AvailableCash -= a.cfg.Allocation
	return true
}

// entryParameters walks one side of the order book accumulating whole units
// until the next unit would overflow the allocation, yielding the purchasable
// quantity and the volume-weighted price. An empty or unfetchable book yields
// zero quantity.
func (a *Account) entryParameters(ctx context.Context, stock *model.TrackedStock, side model.PositionSide) (int, float64) {
	d, err := a.depth.Depth(ctx, stock.Exchange, stock.Symbol)
	if err != nil {
		logger.WithError(err).WithField("symbol", stock.Symbol).Warn("depth fetch failed, no entry this cycle")
		return 0, 0
	}

	book := d.Sell
	if side == model.SideShort {
		book = d.Buy
	}

	accumulated, quantity := 0.0, 0
	for _, level := range book {
		if level.Price <= 0 {
			continue
		}
		units := level.Orders * level.Quantity
		for u := 0; u < units; u++ {
			if accumulated+level.Price > a.cfg.Allocation {
				if quantity == 0 {
					return 0, 0
				}
				return quantity, accumulated / float64(quantity)
			}
			accumulated += level.Price
			quantity++
		}
	}
	if quantity == 0 {
		return 0, 0
	}
	return quantity, accumulated / float64(quantity)
}

// EvaluateBuys runs the long entry pass: for each tracked symbol without an
// open long position, size an order from the book, consult the buy signal,
// and open a position once the broker confirms. A symbol whose book yields
// nothing on its very first evaluation is evicted and its slot refunded.
func (a *Account) EvaluateBuys(ctx context.Context, report *CycleReport) {
	var evict []string

	for symbol, stock := range a.Tracked {
		if _, open := a.Positions[symbol]; open {
			continue
		}

		quantity, price := a.entryParameters(ctx, stock, model.SideLong)
		if quantity == 0 || price == 0 {
			if stock.FirstLoad {
				evict = append(evict, symbol)
			}
			continue
		}

		if !a.buySignal(symbol) {
			if stock.FirstLoad {
				evict = append(evict, symbol)
			}
			continue
		}

		if err := a.exec.Place(ctx, symbol, quantity, model.SideLong, model.ProductDelivery, stock.Exchange); err != nil {
			report.fail(symbol, err)
			continue
		}

		st := &model.Stage{
			Symbol:      symbol,
			EntryPrice:  price,
			Quantity:    quantity,
			ProductType: model.ProductDelivery,
			Side:        model.SideLong,
			Target:      model.TargetPosition,
			OpenedAt:    a.now(),
		}
		a.Positions[symbol] = stage.NewPositionStage(st, stock, a.cfg.Stage, a.depth, a.exec)

		// cleared only after a confirmed buy; an error path above must keep
		// first-load eviction armed, or a rising stock never re-enters
		stock.FirstLoad = false
		stock.InPosition = true
		stock.LastBuyPrice = price
		stock.LastQuantity = quantity
		report.Opened++

		logger.WithFields(map[string]interface{}{
			"symbol":   symbol,
			"quantity": quantity,
			"price":    price,
		}).Info("long position opened")
	}

	for _, symbol := range evict {
		delete(a.Tracked, symbol)
		a.AvailableCash += a.cfg.Allocation
		logger.WithField("symbol", symbol).Info("never bought on first evaluation, slot reclaimed")
	}
}

// EvaluateShorts mirrors EvaluateBuys on the independent short pool. Short
// entries are always intraday.
func (a *Account) EvaluateShorts(ctx context.Context, report *CycleReport) {
	var evict []string

	for symbol, stock := range a.ShortTracked {
		if _, open := a.ShortPositions[symbol]; open {
			continue
		}

		quantity, price := a.entryParameters(ctx, stock, model.SideShort)
		if quantity == 0 || price == 0 {
			if stock.FirstLoad {
				evict = append(evict, symbol)
			}
			continue
		}

		if !a.shortSignal(symbol) {
			if stock.FirstLoad {
				evict = append(evict, symbol)
			}
			continue
		}

		if err := a.exec.Place(ctx, symbol, quantity, model.SideShort, model.ProductIntraday, stock.Exchange); err != nil {
			report.fail(symbol, err)
			continue
		}

		st := &model.Stage{
			Symbol:      symbol,
			EntryPrice:  price,
			Quantity:    quantity,
			ProductType: model.ProductIntraday,
			Side:        model.SideShort,
			Target:      model.TargetPosition,
			OpenedAt:    a.now(),
		}
		a.ShortPositions[symbol] = stage.NewPositionStage(st, stock, a.cfg.Stage, a.depth, a.exec)

		stock.FirstLoad = false
		stock.InPosition = true
		stock.LastBuyPrice = price
		stock.LastQuantity = quantity
		report.Opened++

		logger.WithFields(map[string]interface{}{
			"symbol":   symbol,
			"quantity": quantity,
			"price":    price,
		}).Info("short position opened")
	}

	for _, symbol := range evict {
		delete(a.ShortTracked, symbol)
		a.AvailableCash += a.cfg.Allocation
	}
}

// RefreshAges recomputes each open position's business-day age. Runs once
// per cycle before the sweep so the compounded expected return and the
// force-liquidation gate use the current age. Positions written before
// opened_at existed fall back to the admission date.
func (a *Account) RefreshAges() {
	now := a.now()
	age := func(ps *stage.PositionStage) int {
		from := ps.St.OpenedAt
		if from.IsZero() {
			from = ps.Stock.CreatedAt
		}
		return utils.BusinessDays(from, now, a.holidays)
	}
	for _, ps := range a.Positions {
		ps.DaysOpen = age(ps)
	}
	for _, ps := range a.ShortPositions {
		ps.DaysOpen = age(ps)
	}
}

// Sweep evaluates every open position against the latest prices. A symbol
// missing from the price map keeps its previously observed prices. Closes
// credit one allocation slot, bank the realized value into the symbol wallet
// and the ledger, and retire the symbol from tracking.
func (a *Account) Sweep(ctx context.Context, prices map[string]float64, report *CycleReport) {
	a.sweepPool(ctx, a.Positions, a.Tracked, prices, report)
	a.sweepPool(ctx, a.ShortPositions, a.ShortTracked, prices, report)
}

func (a *Account) sweepPool(ctx context.Context, pool map[string]*stage.PositionStage,
	tracked map[string]*model.TrackedStock, prices map[string]float64, report *CycleReport) {

	var closed []string

	for symbol, ps := range pool {
		var latest *float64
		if price, ok := prices[symbol]; ok && price > 0 {
			p := price
			latest = &p
		}

		result, err := ps.Evaluate(ctx, latest)
		if err != nil {
			var invalid *stage.InvalidPositionError
			if errors.As(err, &invalid) {
				// unusable quantity or cost basis: stop tracking the symbol
				// entirely rather than re-derive bad arithmetic every cycle
				closed = append(closed, symbol)
				delete(tracked, symbol)
				a.AvailableCash += a.cfg.Allocation
			}
			report.fail(symbol, err)
			continue
		}
		if !result.Closed {
			continue
		}

		a.settleClose(ctx, symbol, ps, result)
		closed = append(closed, symbol)
		delete(tracked, symbol)
		report.Closed++
	}

	for _, symbol := range closed {
		delete(pool, symbol)
	}
}

// settleClose applies the ledger side of a confirmed close: slot credit,
// symbol wallet accumulation, wallet ledger accumulation, holding removal.
// Runs only after the executor confirmed the flattening order.
func (a *Account) settleClose(ctx context.Context, symbol string, ps *stage.PositionStage, result stage.Result) {
	a.AvailableCash += a.cfg.Allocation
	ps.Stock.Wallet += result.WalletValue
	ps.Stock.InPosition = false
	delete(a.Holdings, symbol)

	if err := a.ledger.Accumulate(ctx, result.WalletValue); err != nil {
		logger.WithError(err).WithField("symbol", symbol).Error("wallet accumulation failed after close")
	}

	logger.WithFields(map[string]interface{}{
		"symbol":        symbol,
		"reason":        result.Reason,
		"realized":      result.WalletValue,
		"symbolWallet":  ps.Stock.Wallet,
		"availableCash": a.AvailableCash,
	}).Info("close settled")
}

// ConvertPositionsToHoldings rebuilds the holdings map from the open long
// positions at end of session. Shorts are intraday and never carry over.
func (a *Account) ConvertPositionsToHoldings() {
	a.Holdings = make(map[string]*model.Stage, len(a.Positions))
	for symbol, ps := range a.Positions {
		h := ps.St.ToHolding()
		a.Holdings[symbol] = &h
	}
}

// ConvertHoldingsToPositions rebuilds live positions from the holdings loaded
// at session start.
func (a *Account) ConvertHoldingsToPositions() {
	a.Positions = make(map[string]*stage.PositionStage, len(a.Holdings))
	for symbol, h := range a.Holdings {
		stock, ok := a.Tracked[symbol]
		if !ok {
			stock = &model.TrackedStock{
				Symbol:    symbol,
				Exchange:  a.cfg.Exchange,
				CreatedAt: h.OpenedAt,
			}
			a.Tracked[symbol] = stock
		}
		stock.InPosition = true
		stock.FirstLoad = false
		stock.LastQuantity = h.Quantity
		if stock.LastBuyPrice <= 0 {
			stock.LastBuyPrice = h.EntryPrice
		}

		p := h.ToPosition()
		a.Positions[symbol] = stage.NewPositionStage(&p, stock, a.cfg.Stage, a.depth, a.exec)
	}
}

// Persist writes the end-of-session state: surviving tracked symbols,
// positions converted to holdings, and deletion of everything sold today.
// Runs strictly after all ledger mutation for the session is final.
func (a *Account) Persist(ctx context.Context) error {
	for _, stock := range a.Tracked {
		if err := a.stocks.Upsert(ctx, stock); err != nil {
			return err
		}
	}
	for _, symbol := range a.initialStocks {
		if _, ok := a.Tracked[symbol]; !ok {
			if err := a.stocks.DeleteBySymbol(ctx, symbol); err != nil {
				return err
			}
		}
	}

	a.ConvertPositionsToHoldings()

	for _, h := range a.Holdings {
		if err := a.holdings.Upsert(ctx, h); err != nil {
			return err
		}
	}
	for _, symbol := range a.initialHoldings {
		if _, ok := a.Holdings[symbol]; !ok {
			if err := a.holdings.DeleteBySymbol(ctx, symbol); err != nil {
				return err
			}
		}
	}

	logger.WithFields(map[string]interface{}{
		"stocks":   len(a.Tracked),
		"holdings": len(a.Holdings),
	}).Info("session state persisted")
	return nil
}
