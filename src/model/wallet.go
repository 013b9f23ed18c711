package model

import "time"

// Wallet tracks realized profit across cycles against an externally set
// ceiling. The force-liquidation rule at end of day reads the headroom
// between AccumulatedAmount and ExpectedAmount.
type Wallet struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// ExpectedAmount is the realized-profit ceiling set through the control
	// API. Liquidation never pushes AccumulatedAmount below it by more than
	// the liquidated position's own unrealized magnitude.
	ExpectedAmount    float64 `gorm:"not null;default:99999999" json:"expected_amount"`
	AccumulatedAmount float64 `gorm:"not null;default:0" json:"accumulated_amount"`
	StartingAmount    float64 `gorm:"not null" json:"starting_amount"`

	StartingAmountUpdatedAt time.Time `json:"starting_amount_updated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
