package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"equityrunner/src/database"
	"equityrunner/src/model"
)

// WalletRepository handles persistence for the single wallet ledger row.
type WalletRepository struct {
	db *gorm.DB
}

// NewWalletRepository creates a new repository instance using the main read/write database.
func NewWalletRepository() *WalletRepository {
	logger.WithField("component", "WalletRepository").
		Info("Creating new WalletRepository with MainDB")

	return &WalletRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *WalletRepository) WithDB(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Get fetches the wallet row. There is at most one; returns (nil, nil) when
// it has not been created yet.
func (r *WalletRepository) Get(ctx context.Context) (*model.Wallet, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "WalletRepository",
		"op":   "Get",
	}).Debug("Fetching wallet")

	var w model.Wallet

	err := r.db.WithContext(ctx).First(&w).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "WalletRepository",
				"op":   "Get",
			}).Info("Wallet not created yet")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "WalletRepository",
			"op":   "Get",
		}).WithError(err).Error("Failed to fetch wallet")

		return nil, err
	}

	return &w, nil
}

// Save persists the wallet row, creating it on first use.
func (r *WalletRepository) Save(ctx context.Context, w *model.Wallet) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "WalletRepository",
		"op":          "Save",
		"expected":    w.ExpectedAmount,
		"accumulated": w.AccumulatedAmount,
	}).Debug("Saving wallet")

	err := r.db.WithContext(ctx).Save(w).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "WalletRepository",
			"op":   "Save",
		}).WithError(err).Error("Failed to save wallet")

		return err
	}

	return nil
}
