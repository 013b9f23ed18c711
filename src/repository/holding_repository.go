package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"equityrunner/src/database"
	"equityrunner/src/model"
)

// HoldingRepository handles persistence for positions carried overnight.
// Only holdings reach the database; open positions are rebuilt from them at
// the next session start.
type HoldingRepository struct {
	db *gorm.DB
}

// NewHoldingRepository creates a new repository instance using the main read/write database.
func NewHoldingRepository() *HoldingRepository {
	logger.WithField("component", "HoldingRepository").
		Info("Creating new HoldingRepository with MainDB")

	return &HoldingRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *HoldingRepository) WithDB(db *gorm.DB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// FindAll returns every stored holding.
func (r *HoldingRepository) FindAll(ctx context.Context) ([]model.Stage, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "HoldingRepository",
		"op":   "FindAll",
	}).Debug("Fetching holdings")

	var holdings []model.Stage

	err := r.db.WithContext(ctx).
		Order("opened_at ASC").
		Find(&holdings).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "HoldingRepository",
			"op":   "FindAll",
		}).WithError(err).Error("Failed to fetch holdings")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "HoldingRepository",
		"op":          "FindAll",
		"rows_return": len(holdings),
	}).Info("Holdings fetched")

	for i := range holdings {
		holdings[i].Target = model.TargetHolding
	}
	return holdings, nil
}

// Upsert inserts the holding or, when the symbol already exists, refreshes
// the position columns in place.
func (r *HoldingRepository) Upsert(ctx context.Context, holding *model.Stage) error {

	logger.WithFields(map[string]interface{}{
		"repo":     "HoldingRepository",
		"op":       "Upsert",
		"symbol":   holding.Symbol,
		"quantity": holding.Quantity,
		"side":     holding.Side,
	}).Debug("Upserting holding")

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"entry_price",
				"quantity",
				"product_type",
				"side",
				"trigger",
				"opened_at",
				"updated_at",
			}),
		}).
		Create(holding).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "HoldingRepository",
			"op":     "Upsert",
			"symbol": holding.Symbol,
		}).WithError(err).Error("Failed to upsert holding")

		return err
	}

	return nil
}

// DeleteBySymbol removes the holding of a symbol that was closed.
func (r *HoldingRepository) DeleteBySymbol(ctx context.Context, symbol string) error {

	logger.WithFields(map[string]interface{}{
		"repo":   "HoldingRepository",
		"op":     "DeleteBySymbol",
		"symbol": symbol,
	}).Debug("Deleting holding")

	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Delete(&model.Stage{}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "HoldingRepository",
			"op":     "DeleteBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to delete holding")

		return err
	}

	return nil
}
