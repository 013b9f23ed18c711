package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"equityrunner/src/database"
	"equityrunner/src/model"
)

// TrackedStockRepository handles persistence for the tracked-symbol pool.
type TrackedStockRepository struct {
	db *gorm.DB
}

// NewTrackedStockRepository creates a new repository instance using the main read/write database.
func NewTrackedStockRepository() *TrackedStockRepository {
	logger.WithField("component", "TrackedStockRepository").
		Info("Creating new TrackedStockRepository with MainDB")

	return &TrackedStockRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TrackedStockRepository) WithDB(db *gorm.DB) *TrackedStockRepository {
	return &TrackedStockRepository{db: db}
}

// FindAll returns every tracked symbol, oldest admission first.
func (r *TrackedStockRepository) FindAll(ctx context.Context) ([]model.TrackedStock, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "TrackedStockRepository",
		"op":   "FindAll",
	}).Debug("Fetching tracked stocks")

	var stocks []model.TrackedStock

	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&stocks).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TrackedStockRepository",
			"op":   "FindAll",
		}).WithError(err).Error("Failed to fetch tracked stocks")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "TrackedStockRepository",
		"op":          "FindAll",
		"rows_return": len(stocks),
	}).Info("Tracked stocks fetched")

	return stocks, nil
}

// Upsert inserts the tracked stock or, when the symbol already exists,
// refreshes its wallet and session bookkeeping columns.
func (r *TrackedStockRepository) Upsert(ctx context.Context, stock *model.TrackedStock) error {

	logger.WithFields(map[string]interface{}{
		"repo":   "TrackedStockRepository",
		"op":     "Upsert",
		"symbol": stock.Symbol,
		"wallet": stock.Wallet,
	}).Debug("Upserting tracked stock")

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"exchange",
				"wallet",
				"last_buy_price",
				"last_quantity",
				"first_load",
				"in_position",
				"updated_at",
			}),
		}).
		Create(stock).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TrackedStockRepository",
			"op":     "Upsert",
			"symbol": stock.Symbol,
		}).WithError(err).Error("Failed to upsert tracked stock")

		return err
	}

	return nil
}

// FindBySymbol fetches a single tracked stock by symbol.
// Returns (nil, nil) if not found.
func (r *TrackedStockRepository) FindBySymbol(
	ctx context.Context,
	symbol string,
) (*model.TrackedStock, error) {

	var stock model.TrackedStock

	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		First(&stock).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":   "TrackedStockRepository",
				"op":     "FindBySymbol",
				"symbol": symbol,
			}).Info("Tracked stock not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "TrackedStockRepository",
			"op":     "FindBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch tracked stock by symbol")

		return nil, err
	}

	return &stock, nil
}

// DeleteBySymbol removes the record of a symbol that left the pool.
func (r *TrackedStockRepository) DeleteBySymbol(ctx context.Context, symbol string) error {

	logger.WithFields(map[string]interface{}{
		"repo":   "TrackedStockRepository",
		"op":     "DeleteBySymbol",
		"symbol": symbol,
	}).Debug("Deleting tracked stock")

	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Delete(&model.TrackedStock{}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TrackedStockRepository",
			"op":     "DeleteBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to delete tracked stock")

		return err
	}

	return nil
}
