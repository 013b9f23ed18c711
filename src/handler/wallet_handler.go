package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

// walletLedger is the slice of the wallet ledger the control API touches.
type walletLedger interface {
	Metrics(now time.Time) map[string]interface{}
	SetExpectedAmount(ctx context.Context, amount float64) error
	SetAccumulatedAmount(ctx context.Context, amount float64) error
}

// WalletMetricsHandler serves the ledger summary: starting, accumulated and
// expected amounts plus the implied daily and monthly returns.
func WalletMetricsHandler(ledger walletLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ledger.Metrics(time.Now())); err != nil {
			logger.WithError(err).Error("failed to encode wallet metrics")
		}
	}
}

// SetExpectedAmountHandler replaces the realized-profit ceiling that gates
// end-of-day force liquidation.
func SetExpectedAmountHandler(ledger walletLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		amount, ok := amountParam(w, r)
		if !ok {
			return
		}

		if err := ledger.SetExpectedAmount(r.Context(), amount); err != nil {
			logger.WithError(err).Error("failed to update expected amount")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.WithField("expected_amount", amount).Info("expected amount updated via control API")
		writeAccepted(w, "expected_amount", amount)
	}
}

// SetAccumulatedAmountHandler overwrites the accumulated amount, used for
// manual reconciliation against broker statements.
func SetAccumulatedAmountHandler(ledger walletLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		amount, ok := amountParam(w, r)
		if !ok {
			return
		}

		if err := ledger.SetAccumulatedAmount(r.Context(), amount); err != nil {
			logger.WithError(err).Error("failed to update accumulated amount")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.WithField("accumulated_amount", amount).Info("accumulated amount updated via control API")
		writeAccepted(w, "accumulated_amount", amount)
	}
}

func amountParam(w http.ResponseWriter, r *http.Request) (float64, bool) {
	raw := chi.URLParam(r, "amount")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.WithField("amount", raw).Warn("invalid amount in control API request")
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return 0, false
	}
	return amount, true
}

func writeAccepted(w http.ResponseWriter, field string, amount float64) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{field: amount}); err != nil {
		logger.WithError(err).Error("failed to encode control API response")
	}
}
