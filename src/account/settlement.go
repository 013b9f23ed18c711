package account

import (
	"context"
	"math"
	"sort"

	logger "github.com/sirupsen/logrus"

	"equityrunner/src/model"
	"equityrunner/src/stage"
)

// forceCandidate is an open position eligible for end-of-day liquidation,
// keyed by its net-of-cost unrealized value.
type forceCandidate struct {
	symbol string
	ps     *stage.PositionStage
	value  float64
}

// SettleEndOfDay runs the session-close pass, in order:
//  1. short positions are flattened unconditionally (intraday product must
//     square off before close);
//  2. long positions with an armed trigger are sold at market (a locked
//     profit left overnight decays into delivery costs and trapped funds);
//  3. triggerless positions opened today that sit above their cost basis are
//     sold at breakeven-or-better;
//  4. the remainder is sorted by unrealized value ascending and force-closed
//     oldest-eligible first, as long as each position's own unrealized
//     magnitude stays inside the wallet headroom measured at settlement
//     start.
//
// Every close still goes through the executor; a rejected order leaves the
// position open and it simply carries into holdings.
func (a *Account) SettleEndOfDay(ctx context.Context, report *CycleReport) {
	a.closeAllShorts(ctx, report)

	candidates := a.closeBreakevenAndTriggered(ctx, report)

	a.forceLiquidate(ctx, candidates, report)
}

func (a *Account) closeAllShorts(ctx context.Context, report *CycleReport) {
	var closed []string

	for symbol, ps := range a.ShortPositions {
		result, err := ps.CloseNow(ctx, model.CloseForced)
		if err != nil {
			report.fail(symbol, err)
			continue
		}
		a.settleClose(ctx, symbol, ps, result)
		delete(a.ShortTracked, symbol)
		closed = append(closed, symbol)
		report.Closed++
	}

	for _, symbol := range closed {
		delete(a.ShortPositions, symbol)
	}
}

// closeBreakevenAndTriggered handles steps 2 and 3 and returns the surviving
// positions as force-liquidation candidates with their unrealized values.
func (a *Account) closeBreakevenAndTriggered(ctx context.Context, report *CycleReport) []forceCandidate {
	var (
		closed     []string
		candidates []forceCandidate
	)

	for symbol, ps := range a.Positions {
		if ps.St.CurrentPrice == nil {
			continue
		}
		current := *ps.St.CurrentPrice

		switch {
		case ps.St.Trigger != nil:
			result, err := ps.CloseNow(ctx, model.CloseProfit)
			if err != nil {
				report.fail(symbol, err)
				continue
			}
			logger.WithField("symbol", symbol).Info("trigger still armed at session close, sold")
			a.settleClose(ctx, symbol, ps, result)
			delete(a.Tracked, symbol)
			closed = append(closed, symbol)
			report.Closed++

		case ps.DaysOpen <= 1 && current > ps.CostBasis():
			result, err := ps.CloseNow(ctx, model.CloseCostRecovery)
			if err != nil {
				report.fail(symbol, err)
				continue
			}
			logger.WithFields(map[string]interface{}{
				"symbol": symbol,
				"price":  current,
			}).Info("crossed cost basis at session close, sold")
			a.settleClose(ctx, symbol, ps, result)
			delete(a.Tracked, symbol)
			closed = append(closed, symbol)
			report.Closed++

		default:
			candidates = append(candidates, forceCandidate{
				symbol: symbol,
				ps:     ps,
				value:  ps.UnrealizedValue(),
			})
		}
	}

	for _, symbol := range closed {
		delete(a.Positions, symbol)
	}
	return candidates
}

// forceLiquidate closes aged positions smallest-unrealized first while each
// position's own unrealized magnitude remains within the headroom between
// accumulated and expected wallet amounts. Headroom is snapshotted once so
// the gate is judged against the day's realized profit, not against the
// liquidations themselves.
func (a *Account) forceLiquidate(ctx context.Context, candidates []forceCandidate, report *CycleReport) {
	if len(candidates) == 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].value < candidates[j].value
	})

	headroom := a.ledger.Headroom()
	logger.WithFields(map[string]interface{}{
		"headroom":   headroom,
		"candidates": len(candidates),
	}).Info("force liquidation pass")

	for _, c := range candidates {
		if c.ps.DaysOpen <= a.cfg.ForceLiquidationAge {
			continue
		}
		if math.Abs(c.value) >= headroom {
			continue
		}

		result, err := c.ps.CloseNow(ctx, model.CloseForced)
		if err != nil {
			report.fail(c.symbol, err)
			continue
		}

		logger.WithFields(map[string]interface{}{
			"symbol":     c.symbol,
			"daysOpen":   c.ps.DaysOpen,
			"unrealized": c.value,
		}).Info("aged position force closed")

		a.settleClose(ctx, c.symbol, c.ps, result)
		delete(a.Tracked, c.symbol)
		delete(a.Positions, c.symbol)
		report.Closed++
	}
}
