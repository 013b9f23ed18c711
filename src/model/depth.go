package model

// DepthEntry is one level of the order book: a price, the quantity resting
// at it, and how many orders make it up.
type DepthEntry struct {
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Orders   int     `json:"orders"`
}

// MarketDepth is the top of book for one symbol as reported by the broker.
type MarketDepth struct {
	Buy  []DepthEntry `json:"buy"`
	Sell []DepthEntry `json:"sell"`
}

// Units sums orders x quantity over the entries, the liquidity measure used
// to gate a close against the opposite side of the book.
func Units(entries []DepthEntry) int {
	total := 0
	for _, e := range entries {
		total += e.Orders * e.Quantity
	}
	return total
}
