package costs

import (
	"equityrunner/src/model"

	"github.com/shopspring/decimal"
)

// Fee constants per product. The broker does not publish the exact formula,
// so rates were fitted by back-calculation against contract notes. Every
// intermediate component is rounded to 2 decimals before summation so the
// estimate errs on the expensive side and never under-states the true cost.
var (
	intradayBrokerageRate = decimal.RequireFromString("0.0003") // 0.03% of turnover
	intradayBrokerageCap  = decimal.RequireFromString("40")
	intradaySTTRate       = decimal.RequireFromString("0.00025") // 0.025% of sell side
	intradayStampRate     = decimal.RequireFromString("0.00003") // 0.003% of buy side

	deliverySTTRate   = decimal.RequireFromString("0.001")   // 0.1% of turnover
	deliveryStampRate = decimal.RequireFromString("0.00015") // 0.015% of buy side
	deliveryDPCharge  = decimal.RequireFromString("15.93")   // flat, on sell only

	exchangeTxnRate = decimal.RequireFromString("0.0000345") // 0.00345% of turnover
	sebiRate        = decimal.RequireFromString("0.000001")  // 10 per crore
	gstRate         = decimal.RequireFromString("0.18")
	gstFactor       = decimal.RequireFromString("1.18")
)

// TransactionCost is the itemized fee/tax breakdown of one round trip.
// Construction is pure; there are no broker calls here.
type TransactionCost struct {
	GrossPL decimal.Decimal

	Brokerage      decimal.Decimal
	STT            decimal.Decimal
	ExchangeCharge decimal.Decimal
	SEBICharge     decimal.Decimal
	StampDuty      decimal.Decimal
	DPCharge       decimal.Decimal
	GST            decimal.Decimal
}

// Compute builds the cost breakdown for a buy/sell pair. A zero selling
// price means the position is still open: sell-side charges that only apply
// on exit (the delivery DP charge) are skipped.
func Compute(buyingPrice, sellingPrice float64, quantity int, product model.ProductType) TransactionCost {
	buy := decimal.NewFromFloat(buyingPrice)
	sell := decimal.NewFromFloat(sellingPrice)
	qty := decimal.NewFromInt(int64(quantity))

	buyTurnover := buy.Mul(qty)
	sellTurnover := sell.Mul(qty)
	turnover := buyTurnover.Add(sellTurnover)

	c := TransactionCost{
		GrossPL: sell.Sub(buy).Mul(qty),
	}

	switch product {
	case model.ProductIntraday:
		c.Brokerage = turnover.Mul(intradayBrokerageRate).Round(2)
		if c.Brokerage.GreaterThan(intradayBrokerageCap) {
			c.Brokerage = intradayBrokerageCap
		}
		c.STT = sellTurnover.Mul(intradaySTTRate).Round(2)
		c.StampDuty = buyTurnover.Mul(intradayStampRate).Round(2)
	default: // delivery
		c.Brokerage = decimal.Zero
		c.STT = turnover.Mul(deliverySTTRate).Round(2)
		c.StampDuty = buyTurnover.Mul(deliveryStampRate).Round(2)
		if !sell.IsZero() {
			c.DPCharge = deliveryDPCharge
		}
	}

	c.ExchangeCharge = turnover.Mul(exchangeTxnRate).Round(2)
	c.SEBICharge = turnover.Mul(sebiRate).Mul(gstFactor).Round(2)

	// GST applies to brokerage, exchange charges and the SEBI fee net of the
	// surcharge already baked into it.
	gstBase := c.Brokerage.Add(c.ExchangeCharge).Add(c.SEBICharge.Div(gstFactor))
	c.GST = gstBase.Mul(gstRate).Round(2)

	return c
}

// TotalTaxAndCharges is the sum of every fee component.
func (c TransactionCost) TotalTaxAndCharges() decimal.Decimal {
	return c.Brokerage.
		Add(c.STT).
		Add(c.ExchangeCharge).
		Add(c.SEBICharge).
		Add(c.StampDuty).
		Add(c.DPCharge).
		Add(c.GST)
}

// NetPL is the gross profit or loss net of all taxes and charges.
func (c TransactionCost) NetPL() decimal.Decimal {
	return c.GrossPL.Sub(c.TotalTaxAndCharges())
}

// PerUnit returns the round-trip charges amortized over the quantity, as a
// float for the price-level arithmetic in the trigger ratchet.
func PerUnit(buyingPrice, sellingPrice float64, quantity int, product model.ProductType) float64 {
	if quantity <= 0 {
		return 0
	}
	total := Compute(buyingPrice, sellingPrice, quantity, product).TotalTaxAndCharges()
	perUnit, _ := total.Div(decimal.NewFromInt(int64(quantity))).Float64()
	return perUnit
}
