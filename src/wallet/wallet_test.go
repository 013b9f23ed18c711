package wallet

import (
	"context"
	"math"
	"testing"
	"time"

	"equityrunner/src/model"
	"equityrunner/src/utils"
)

type memRepo struct {
	w     *model.Wallet
	saves int
}

func (m *memRepo) Get(context.Context) (*model.Wallet, error) { return m.w, nil }
func (m *memRepo) Save(_ context.Context, w *model.Wallet) error {
	m.w = w
	m.saves++
	return nil
}

func TestLoad_CreatesWalletWhenMissing(t *testing.T) {
	repo := &memRepo{}
	l, err := Load(context.Background(), repo, 150000, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.saves != 1 {
		t.Fatalf("expected the new wallet to be persisted once, got %d saves", repo.saves)
	}
	if l.Wallet().StartingAmount != 150000 {
		t.Fatalf("unexpected starting amount: %v", l.Wallet().StartingAmount)
	}
}

func TestDailyReturn_GeometricOverBusinessDays(t *testing.T) {
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) // Monday
	repo := &memRepo{w: &model.Wallet{
		StartingAmount:          100000,
		AccumulatedAmount:       2000,
		StartingAmountUpdatedAt: start,
	}}
	l, err := Load(context.Background(), repo, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Date(2025, 3, 7, 16, 0, 0, 0, time.UTC) // Friday, 5 business days
	want := math.Pow(1.02, 1.0/5) - 1
	if got := l.DailyReturn(now); math.Abs(got-want) > 1e-12 {
		t.Fatalf("daily return mismatch. got=%v want=%v", got, want)
	}
}

func TestDailyReturn_HolidayExcluded(t *testing.T) {
	holidays, _ := utils.ParseHolidays("2025-03-05")
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	repo := &memRepo{w: &model.Wallet{
		StartingAmount:          100000,
		AccumulatedAmount:       1000,
		StartingAmountUpdatedAt: start,
	}}
	l, _ := Load(context.Background(), repo, 0, holidays)

	now := time.Date(2025, 3, 7, 16, 0, 0, 0, time.UTC)
	if got := l.BusinessDaysElapsed(now); got != 4 {
		t.Fatalf("expected 4 business days with the holiday excluded, got %d", got)
	}
}

func TestAccumulate_PersistsAndTracksHeadroom(t *testing.T) {
	repo := &memRepo{w: &model.Wallet{
		StartingAmount:          100000,
		ExpectedAmount:          500,
		StartingAmountUpdatedAt: time.Now(),
	}}
	l, _ := Load(context.Background(), repo, 0, nil)

	if err := l.Accumulate(context.Background(), 620); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.saves != 1 {
		t.Fatalf("expected one save, got %d", repo.saves)
	}
	if got := l.Headroom(); math.Abs(got-120) > 1e-9 {
		t.Fatalf("headroom mismatch. got=%v want=120", got)
	}
}

func TestResetStartingAmount(t *testing.T) {
	repo := &memRepo{w: &model.Wallet{
		StartingAmount:          100000,
		AccumulatedAmount:       3000,
		StartingAmountUpdatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	l, _ := Load(context.Background(), repo, 0, nil)

	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	if err := l.ResetStartingAmount(context.Background(), 103000, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := l.Wallet()
	if w.StartingAmount != 103000 || w.AccumulatedAmount != 0 || !w.StartingAmountUpdatedAt.Equal(now) {
		t.Fatalf("reset left inconsistent state: %+v", w)
	}
}
