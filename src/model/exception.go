package model

import "time"

// Exception is a persisted error record. Per-symbol failures are isolated
// during a cycle instead of aborting it, so the audit trail here is the only
// place a swallowed failure stays visible.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "runner"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "account"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "BuyCycle"

	// Symbol being evaluated when the error occurred, if any.
	Symbol string `gorm:"size:50;index" json:"symbol,omitempty"`

	Message string `gorm:"type:text" json:"message"`
	Level   string `gorm:"size:20;index" json:"level"` // debug | info | warn | error | fatal

	// Extra context stored as JSON (optional)
	Context string `gorm:"type:jsonb" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
