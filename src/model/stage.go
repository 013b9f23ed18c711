package model

import "time"

// Stage is the single entity behind both lifecycle variants of an open
// trade: a Position opened during the current session and a Holding carried
// over from an earlier one. The Target tag tells them apart; shared fields
// live here once instead of in a subclass pair.
//
// Only holdings reach the database (positions are reconstructed from them at
// session start), so the gorm tags describe the holdings table.
type Stage struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Symbol string `gorm:"size:50;not null;uniqueIndex" json:"symbol"`

	EntryPrice  float64      `gorm:"not null" json:"entry_price"`
	Quantity    int          `gorm:"not null" json:"quantity"`
	ProductType ProductType  `gorm:"size:20;not null" json:"product_type"`
	Side        PositionSide `gorm:"size:10;not null" json:"side"`

	// Trigger is the ratcheting profit lock. Nil until the price has fully
	// achieved at least one return step.
	Trigger *float64 `json:"trigger,omitempty"`

	Target PersistenceTarget `gorm:"-" json:"-"`

	// Cost basis (entry price + per-unit transaction cost) and the two most
	// recent observed prices are session state, never persisted.
	Cost         *float64 `gorm:"-" json:"-"`
	CurrentPrice *float64 `gorm:"-" json:"-"`
	LastPrice    *float64 `gorm:"-" json:"-"`

	OpenedAt  time.Time `json:"opened_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Stage) TableName() string {
	return "holdings"
}

// ToHolding returns a copy tagged for persistence at end of session.
// Entry price, quantity, product type, side, symbol and trigger carry over
// exactly; session-only price state is dropped.
func (s Stage) ToHolding() Stage {
	h := Stage{
		Symbol:      s.Symbol,
		EntryPrice:  s.EntryPrice,
		Quantity:    s.Quantity,
		ProductType: s.ProductType,
		Side:        s.Side,
		Target:      TargetHolding,
		OpenedAt:    s.OpenedAt,
	}
	if s.Trigger != nil {
		t := *s.Trigger
		h.Trigger = &t
	}
	return h
}

// ToPosition returns a copy tagged as a live position for the new session.
func (s Stage) ToPosition() Stage {
	p := s.ToHolding()
	p.Target = TargetPosition
	p.ID = s.ID
	return p
}
