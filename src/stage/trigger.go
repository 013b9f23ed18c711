package stage

import (
	logger "github.com/sirupsen/logrus"

	"equityrunner/src/model"
)

// updateTrigger runs the ratchet at the observed price P. The trigger is the
// price level of the highest fully-achieved return step: cost basis times
// (1 + expected return + k x incremental return) for the largest k whose
// step P has passed. Once set it never moves against the position; for longs
// it is cleared again when the price falls back below the minimum secured
// return rather than keeping a stale lock.
func (p *PositionStage) updateTrigger(price float64) error {
	expected := p.currentExpectedReturn()
	inc := p.cfg.IncrementalReturn
	unit := p.perUnitCost(price)

	// Cost basis: entry plus amortized transaction cost for longs; for
	// shorts the buy side is the exit, so the basis rides the observed price.
	cost := p.St.EntryPrice + unit
	if p.St.Side == model.SideShort {
		cost = price + unit
	}
	p.St.Cost = &cost

	if cost <= 0 {
		return &InvalidPositionError{Symbol: p.St.Symbol, Quantity: p.St.Quantity, Cost: cost}
	}

	earlier := p.St.Trigger

	if p.St.Side == model.SideShort {
		p.ratchetShort(price, cost, expected, inc, earlier)
	} else {
		p.ratchetLong(price, cost, expected, inc, earlier)
	}

	if earlier == nil && p.St.Trigger != nil {
		logger.WithFields(map[string]interface{}{
			"symbol":  p.St.Symbol,
			"trigger": *p.St.Trigger,
			"price":   price,
		}).Info("trigger armed")
	}
	return nil
}

func (p *PositionStage) ratchetLong(price, cost, expected, inc float64, earlier *float64) {
	// Highest fully-achieved step strictly below the price.
	var candidate *float64
	for k := 1; cost*(1+expected+float64(k)*inc) < price; k++ {
		level := cost * (1 + expected + float64(k)*inc)
		candidate = &level
	}

	if earlier == nil {
		p.St.Trigger = candidate
		return
	}

	trigger := *earlier
	if candidate != nil {
		trigger = *candidate
	}
	// Never regress: keep whichever lock is higher, and ride the price
	// itself when it has run past the lock.
	if price > trigger {
		trigger = price
	}
	if *earlier > trigger {
		trigger = *earlier
	}
	// Price fell back below the minimum secured return: the lock is stale.
	if cost*(1+expected) > price {
		p.St.Trigger = nil
		return
	}
	p.St.Trigger = &trigger
}

func (p *PositionStage) ratchetShort(price, cost, expected, inc float64, earlier *float64) {
	// Mirror of the long ratchet: steps are achieved as the buyback cost
	// falls below the entry credit, and the level is entry divided by the
	// accumulated return factor. Shorts keep their lock even on a bounce;
	// only the merge rules below move it.
	entry := p.St.EntryPrice

	var candidate *float64
	for k := 1; cost*(1+expected+float64(k)*inc) < entry; k++ {
		level := entry / (1 + expected + float64(k)*inc)
		candidate = &level
	}

	if earlier == nil {
		p.St.Trigger = candidate
		return
	}

	trigger := *earlier
	if candidate != nil {
		trigger = *candidate
	}
	if price < trigger {
		trigger = price
	}
	if *earlier < trigger {
		trigger = *earlier
	}
	p.St.Trigger = &trigger
}
