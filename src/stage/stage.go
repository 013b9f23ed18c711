package stage

import (
	"context"
	"fmt"
	"math"

	logger "github.com/sirupsen/logrus"

	"equityrunner/src/costs"
	"equityrunner/src/model"
)

// InvalidPositionError reports a stage whose quantity or cost basis cannot
// support the trigger arithmetic. The owning symbol is dropped from tracking.
type InvalidPositionError struct {
	Symbol   string
	Quantity int
	Cost     float64
}

func (e *InvalidPositionError) Error() string {
	return fmt.Sprintf("invalid position %s: quantity=%d cost=%.2f", e.Symbol, e.Quantity, e.Cost)
}

// OrderExecutor places one broker order. No internal retry; any error means
// the order did not go through and no ledger state may change.
type OrderExecutor interface {
	Place(ctx context.Context, symbol string, quantity int, side model.PositionSide, product model.ProductType, exchange string) error
}

// DepthProvider returns the current top of book for a symbol. A close is
// only attempted when the opposite side of the book can absorb the quantity.
type DepthProvider interface {
	Depth(ctx context.Context, exchange, symbol string) (*model.MarketDepth, error)
}

// Config carries the return constants of the ratchet. Zero values are
// replaced with the defaults the strategy was tuned with.
type Config struct {
	InitialReturn       float64 // r0, per-day expected return
	ReturnCap           float64 // ceiling on the compounded expected return
	IncrementalReturn   float64 // ratchet step size, also the retrace margin
	ShortExpectedReturn float64 // flat expected return for shorts
	StopLossFraction    float64 // close at loss below lastBuyPrice x fraction
}

func (c Config) withDefaults() Config {
	if c.InitialReturn == 0 {
		c.InitialReturn = 0.02
	}
	if c.ReturnCap == 0 {
		c.ReturnCap = 0.02
	}
	if c.IncrementalReturn == 0 {
		c.IncrementalReturn = 0.03
	}
	if c.ShortExpectedReturn == 0 {
		c.ShortExpectedReturn = 0.002
	}
	if c.StopLossFraction == 0 {
		c.StopLossFraction = 0.90
	}
	return c
}

// Result is the outcome of one evaluation cycle for one stage.
type Result struct {
	Closed bool
	Reason model.CloseReason

	// WalletValue is the realized P&L (net of transaction cost) credited to
	// the symbol wallet when Closed is true.
	WalletValue float64
}

var contin = Result{} // the stage stays open

// PositionStage wraps one open Stage with its owning tracked symbol and the
// collaborators needed to evaluate it each polling cycle.
type PositionStage struct {
	St    *model.Stage
	Stock *model.TrackedStock

	// DaysOpen is the business-day age of the position, refreshed by the
	// orchestrator before each sweep. Drives the compounded expected return.
	DaysOpen int

	cfg   Config
	depth DepthProvider
	exec  OrderExecutor
}

func NewPositionStage(st *model.Stage, stock *model.TrackedStock, cfg Config, depth DepthProvider, exec OrderExecutor) *PositionStage {
	return &PositionStage{
		St:    st,
		Stock: stock,
		cfg:   cfg.withDefaults(),
		depth: depth,
		exec:  exec,
	}
}

// costProduct picks the fee table for a hypothetical exit now. A delivery
// position sold the day it was bought settles at intraday rates.
func (p *PositionStage) costProduct() model.ProductType {
	if p.St.ProductType == model.ProductDelivery && p.DaysOpen <= 1 {
		return model.ProductIntraday
	}
	return p.St.ProductType
}

// perUnitCost amortizes the round-trip transaction cost at exit price sell.
func (p *PositionStage) perUnitCost(exitPrice float64) float64 {
	buy, sell := p.St.EntryPrice, exitPrice
	if p.St.Side == model.SideShort {
		buy, sell = exitPrice, p.St.EntryPrice
	}
	return costs.PerUnit(buy, sell, p.St.Quantity, p.costProduct())
}

// UnrealizedValue is the net-of-cost P&L if the position were closed at its
// last known price. Zero when no price has been observed yet.
func (p *PositionStage) UnrealizedValue() float64 {
	if p.St.CurrentPrice == nil {
		return 0
	}
	return p.walletValue(*p.St.CurrentPrice)
}

func (p *PositionStage) walletValue(exitPrice float64) float64 {
	unit := p.perUnitCost(exitPrice)
	if p.St.Side == model.SideShort {
		return (p.St.EntryPrice - (exitPrice + unit)) * float64(p.St.Quantity)
	}
	return (exitPrice - (p.St.EntryPrice + unit)) * float64(p.St.Quantity)
}

// closeSide is the order side that flattens the position.
func (p *PositionStage) closeSide() model.PositionSide {
	if p.St.Side == model.SideLong {
		return model.SideShort
	}
	return model.SideLong
}

// oppositeBook is the side of the book a closing order consumes.
func (p *PositionStage) oppositeBook(d *model.MarketDepth) []model.DepthEntry {
	if p.St.Side == model.SideLong {
		return d.Buy
	}
	return d.Sell
}

// hasExitDepth checks the opposite side of the book can absorb the
// position's quantity. A failed quote fetch reads as insufficient depth; the
// close is simply retried next cycle.
func (p *PositionStage) hasExitDepth(ctx context.Context) bool {
	d, err := p.depth.Depth(ctx, p.Stock.Exchange, p.St.Symbol)
	if err != nil {
		logger.WithError(err).WithField("symbol", p.St.Symbol).
			Warn("depth fetch failed, holding position")
		return false
	}
	return model.Units(p.oppositeBook(d)) > p.St.Quantity
}

// Evaluate runs one step of the state machine against the latest traded
// price. A nil latest price keeps the previously observed prices (a missed
// tick never discards a known price). A close only commits once the broker
// confirms the flattening order; on rejection the stage stays open untouched.
func (p *PositionStage) Evaluate(ctx context.Context, latest *float64) (Result, error) {
	if p.St.Quantity <= 0 {
		return contin, &InvalidPositionError{Symbol: p.St.Symbol, Quantity: p.St.Quantity}
	}

	if latest != nil {
		p.St.LastPrice = p.St.CurrentPrice
		p.St.CurrentPrice = latest
	}
	if p.St.CurrentPrice == nil {
		return contin, nil
	}
	current := *p.St.CurrentPrice

	if p.St.Trigger != nil {
		if p.retraced(current) && p.hasExitDepth(ctx) {
			return p.commitClose(ctx, current, model.CloseProfit)
		}
	} else if p.stopLossHit(current) && p.hasExitDepth(ctx) {
		return p.commitClose(ctx, current, model.CloseLoss)
	}

	if err := p.updateTrigger(current); err != nil {
		return contin, err
	}
	return contin, nil
}

// retraced reports the profit-taking condition: price gave back one full
// incremental step from the locked trigger.
func (p *PositionStage) retraced(current float64) bool {
	if p.St.Side == model.SideShort {
		return current > *p.St.Trigger*(1+p.cfg.IncrementalReturn)
	}
	return current < *p.St.Trigger*(1-p.cfg.IncrementalReturn)
}

func (p *PositionStage) stopLossHit(current float64) bool {
	ref := p.Stock.LastBuyPrice
	if ref <= 0 {
		ref = p.St.EntryPrice
	}
	if p.St.Side == model.SideShort {
		return current > ref/p.cfg.StopLossFraction
	}
	return current < ref*p.cfg.StopLossFraction
}

// commitClose places the flattening order and, only on success, reports the
// stage closed with its realized value. Rejection returns the stage to the
// caller unchanged so no partial close is ever recorded.
func (p *PositionStage) commitClose(ctx context.Context, exitPrice float64, reason model.CloseReason) (Result, error) {
	err := p.exec.Place(ctx, p.St.Symbol, p.St.Quantity, p.closeSide(), p.St.ProductType, p.Stock.Exchange)
	if err != nil {
		logger.WithError(err).WithFields(map[string]interface{}{
			"symbol": p.St.Symbol,
			"reason": reason,
		}).Error("close order rejected, keeping position open")
		return contin, err
	}

	value := p.walletValue(exitPrice)
	logger.WithFields(map[string]interface{}{
		"symbol":   p.St.Symbol,
		"reason":   reason,
		"exit":     exitPrice,
		"realized": value,
	}).Info("position closed")

	return Result{Closed: true, Reason: reason, WalletValue: value}, nil
}

// CloseNow flattens the position at its last known price without a depth
// gate, used by end-of-day settlement. The executor still has the final say.
func (p *PositionStage) CloseNow(ctx context.Context, reason model.CloseReason) (Result, error) {
	if p.St.CurrentPrice == nil {
		return contin, fmt.Errorf("no observed price for %s", p.St.Symbol)
	}
	return p.commitClose(ctx, *p.St.CurrentPrice, reason)
}

// CostBasis is the entry price plus the per-unit transaction cost at the
// last known price. Zero until a price has been observed.
func (p *PositionStage) CostBasis() float64 {
	if p.St.CurrentPrice == nil {
		return 0
	}
	return p.St.EntryPrice + p.perUnitCost(*p.St.CurrentPrice)
}

// currentExpectedReturn compounds r0 over the position's age for longs,
// capped; shorts use the flat configured constant.
func (p *PositionStage) currentExpectedReturn() float64 {
	if p.St.Side == model.SideShort {
		return p.cfg.ShortExpectedReturn
	}
	if p.DaysOpen >= 2 {
		return math.Min(
			math.Pow(1+p.cfg.InitialReturn, float64(p.DaysOpen+1))-1,
			p.cfg.ReturnCap,
		)
	}
	return p.cfg.InitialReturn
}
