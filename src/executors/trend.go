package executors

// priceTrend remembers the previous cycle's price per symbol so the
// buy/short predicates can require a move in the right direction before an
// entry is attempted. A symbol with no history yet is neither rising nor
// falling.
type priceTrend struct {
	previous map[string]float64
	latest   map[string]float64
}

func newPriceTrend() *priceTrend {
	return &priceTrend{
		previous: map[string]float64{},
		latest:   map[string]float64{},
	}
}

// Observe folds one cycle's fetched prices into the trend history.
func (t *priceTrend) Observe(prices map[string]float64) {
	for symbol, price := range prices {
		if last, ok := t.latest[symbol]; ok {
			t.previous[symbol] = last
		}
		t.latest[symbol] = price
	}
}

// Rising reports whether the symbol ticked up between the last two observed
// cycles.
func (t *priceTrend) Rising(symbol string) bool {
	prev, ok := t.previous[symbol]
	if !ok {
		return false
	}
	return t.latest[symbol] > prev
}

// Falling reports whether the symbol ticked down between the last two
// observed cycles.
func (t *priceTrend) Falling(symbol string) bool {
	prev, ok := t.previous[symbol]
	if !ok {
		return false
	}
	return t.latest[symbol] < prev
}
