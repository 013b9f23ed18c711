package wallet

import (
	"context"
	"fmt"
	"math"
	"time"

	logger "github.com/sirupsen/logrus"

	"equityrunner/src/model"
	"equityrunner/src/utils"
)

// Repository is the slice of persistence the ledger needs.
type Repository interface {
	Get(ctx context.Context) (*model.Wallet, error)
	Save(ctx context.Context, w *model.Wallet) error
}

// Ledger tracks realized profit across cycles and feeds the end-of-day
// force-liquidation gate. All mutation goes through the orchestrator or the
// control API; the ledger itself is single-owner, no locking.
type Ledger struct {
	w        *model.Wallet
	repo     Repository
	holidays utils.HolidaySet
}

// Load fetches the wallet row, creating it with the given starting amount
// when none exists yet.
func Load(ctx context.Context, repo Repository, startingAmount float64, holidays utils.HolidaySet) (*Ledger, error) {
	w, err := repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if w == nil {
		w = &model.Wallet{
			StartingAmount:          startingAmount,
			StartingAmountUpdatedAt: time.Now(),
		}
		if err := repo.Save(ctx, w); err != nil {
			return nil, fmt.Errorf("create wallet: %w", err)
		}
		logger.WithField("starting_amount", startingAmount).Info("wallet created")
	}
	return &Ledger{w: w, repo: repo, holidays: holidays}, nil
}

func (l *Ledger) Wallet() *model.Wallet { return l.w }

// Headroom is how far realized profit sits above the configured ceiling.
// Negative until the ceiling is reached.
func (l *Ledger) Headroom() float64 {
	return l.w.AccumulatedAmount - l.w.ExpectedAmount
}

// BusinessDaysElapsed counts trading days since the starting amount was last
// set, excluding weekends and configured holidays. Never less than 1 so the
// return exponent stays defined.
func (l *Ledger) BusinessDaysElapsed(now time.Time) int {
	days := utils.BusinessDays(l.w.StartingAmountUpdatedAt, now, l.holidays)
	if days < 1 {
		return 1
	}
	return days
}

// DailyReturn is the geometric per-day return implied by the accumulated
// amount over the elapsed business days.
func (l *Ledger) DailyReturn(now time.Time) float64 {
	if l.w.StartingAmount == 0 {
		return 0
	}
	days := float64(l.BusinessDaysElapsed(now))
	return math.Pow(1+l.w.AccumulatedAmount/l.w.StartingAmount, 1/days) - 1
}

// Metrics is the summary served by the control API.
func (l *Ledger) Metrics(now time.Time) map[string]interface{} {
	daily := l.DailyReturn(now)
	return map[string]interface{}{
		"starting_amount":    l.w.StartingAmount,
		"accumulated_amount": l.w.AccumulatedAmount,
		"expected_amount":    l.w.ExpectedAmount,
		"starting_time":      l.w.StartingAmountUpdatedAt,
		"daily_return":       fmt.Sprintf("%.3f %%", daily*100),
		"monthly_return":     fmt.Sprintf("%.3f %%", (math.Pow(1+daily, 20)-1)*100),
	}
}

// Accumulate adds realized P&L from a closed position and persists the row.
func (l *Ledger) Accumulate(ctx context.Context, amount float64) error {
	l.w.AccumulatedAmount += amount
	if err := l.repo.Save(ctx, l.w); err != nil {
		return fmt.Errorf("persist accumulated amount: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"delta":       amount,
		"accumulated": l.w.AccumulatedAmount,
	}).Info("wallet accumulated amount updated")
	return nil
}

// SetExpectedAmount replaces the realized-profit ceiling (control API).
func (l *Ledger) SetExpectedAmount(ctx context.Context, amount float64) error {
	l.w.ExpectedAmount = amount
	return l.repo.Save(ctx, l.w)
}

// SetAccumulatedAmount overwrites the accumulated amount (control API, used
// for manual reconciliation against broker statements).
func (l *Ledger) SetAccumulatedAmount(ctx context.Context, amount float64) error {
	l.w.AccumulatedAmount = amount
	return l.repo.Save(ctx, l.w)
}

// ResetStartingAmount folds accumulated profit into a new baseline and
// restarts the return clock.
func (l *Ledger) ResetStartingAmount(ctx context.Context, amount float64, now time.Time) error {
	l.w.StartingAmount = amount
	l.w.AccumulatedAmount = 0
	l.w.StartingAmountUpdatedAt = now
	return l.repo.Save(ctx, l.w)
}
