package model

import "time"

// TrackedStock is one symbol admitted into the tracking pool. It owns the
// realized P&L accumulator ("wallet") for that symbol and the bookkeeping
// needed to decide first-evaluation eviction.
type TrackedStock struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Symbol   string `gorm:"size:50;not null;uniqueIndex" json:"symbol"`
	Exchange string `gorm:"size:20;not null;default:BSE" json:"exchange"`

	// Realized P&L accumulated across this symbol's buy/sell cycles.
	Wallet float64 `gorm:"not null;default:0" json:"wallet"`

	LastBuyPrice float64 `json:"last_buy_price"`
	LastQuantity int     `json:"last_quantity"`

	// FirstLoad is true until the first successful buy. A symbol that cannot
	// be bought on its first evaluation is evicted and its cash slot freed.
	FirstLoad  bool `gorm:"not null;default:true" json:"first_load"`
	InPosition bool `gorm:"not null;default:false" json:"in_position"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TrackedStock) TableName() string {
	return "tracked_stocks"
}
