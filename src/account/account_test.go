package account

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"equityrunner/src/model"
	"equityrunner/src/stage"
	"equityrunner/src/utils"
)

type placeCall struct {
	symbol   string
	quantity int
	side     model.PositionSide
	product  model.ProductType
}

type fakeExec struct {
	calls []placeCall
	fail  map[string]error
}

func (f *fakeExec) Place(_ context.Context, symbol string, quantity int, side model.PositionSide, product model.ProductType, _ string) error {
	if err, ok := f.fail[symbol]; ok {
		return err
	}
	f.calls = append(f.calls, placeCall{symbol: symbol, quantity: quantity, side: side, product: product})
	return nil
}

type fakeDepth struct {
	books map[string]*model.MarketDepth
	err   error
}

func (f *fakeDepth) Depth(_ context.Context, _, symbol string) (*model.MarketDepth, error) {
	if f.err != nil {
		return nil, f.err
	}
	if d, ok := f.books[symbol]; ok {
		return d, nil
	}
	return &model.MarketDepth{}, nil
}

func deepBook() *model.MarketDepth {
	return &model.MarketDepth{
		Buy:  []model.DepthEntry{{Price: 99, Quantity: 1000, Orders: 5}},
		Sell: []model.DepthEntry{{Price: 100, Quantity: 1000, Orders: 5}},
	}
}

type fakeLedger struct {
	headroom    float64
	accumulated []float64
}

func (f *fakeLedger) Headroom() float64 { return f.headroom }

func (f *fakeLedger) Accumulate(_ context.Context, amount float64) error {
	f.accumulated = append(f.accumulated, amount)
	return nil
}

type memStockStore struct {
	rows    map[string]model.TrackedStock
	deleted []string
}

func newMemStockStore() *memStockStore {
	return &memStockStore{rows: make(map[string]model.TrackedStock)}
}

func (m *memStockStore) FindAll(_ context.Context) ([]model.TrackedStock, error) {
	var out []model.TrackedStock
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

func (m *memStockStore) Upsert(_ context.Context, stock *model.TrackedStock) error {
	m.rows[stock.Symbol] = *stock
	return nil
}

func (m *memStockStore) DeleteBySymbol(_ context.Context, symbol string) error {
	delete(m.rows, symbol)
	m.deleted = append(m.deleted, symbol)
	return nil
}

type memHoldingStore struct {
	rows    map[string]model.Stage
	deleted []string
}

func newMemHoldingStore() *memHoldingStore {
	return &memHoldingStore{rows: make(map[string]model.Stage)}
}

func (m *memHoldingStore) FindAll(_ context.Context) ([]model.Stage, error) {
	var out []model.Stage
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

func (m *memHoldingStore) Upsert(_ context.Context, holding *model.Stage) error {
	m.rows[holding.Symbol] = *holding
	return nil
}

func (m *memHoldingStore) DeleteBySymbol(_ context.Context, symbol string) error {
	delete(m.rows, symbol)
	m.deleted = append(m.deleted, symbol)
	return nil
}

type fixture struct {
	account  *Account
	exec     *fakeExec
	depth    *fakeDepth
	ledger   *fakeLedger
	stocks   *memStockStore
	holdings *memHoldingStore
}

func newFixture(buy, short Signal) *fixture {
	exec := &fakeExec{fail: map[string]error{}}
	depth := &fakeDepth{books: map[string]*model.MarketDepth{}}
	ledger := &fakeLedger{}
	stocks := newMemStockStore()
	holdings := newMemHoldingStore()

	if buy == nil {
		buy = func(string) bool { return true }
	}
	if short == nil {
		short = func(string) bool { return true }
	}

	cfg := Config{Allocation: 1000, Exchange: "NSE"}
	acct := New(cfg, exec, depth, buy, short, ledger, stocks, holdings, utils.HolidaySet{})
	acct.AvailableCash = 5000
	acct.StartingCash = 5000

	return &fixture{account: acct, exec: exec, depth: depth, ledger: ledger, stocks: stocks, holdings: holdings}
}

func TestTrackDebitsOneSlot(t *testing.T) {
	f := newFixture(nil, nil)

	if !f.account.Track(&model.TrackedStock{Symbol: "INFY"}) {
		t.Fatalf("expected admission with free slots")
	}
	if f.account.AvailableCash != 4000 {
		t.Fatalf("expected 4000 after one slot debit, got %f", f.account.AvailableCash)
	}
	if f.account.Track(&model.TrackedStock{Symbol: "INFY"}) {
		t.Fatalf("expected duplicate admission to be refused")
	}

	f.account.AvailableCash = 500
	if f.account.Track(&model.TrackedStock{Symbol: "TCS"}) {
		t.Fatalf("expected refusal when no slot is free")
	}
	if f.account.AvailableCash != 500 {
		t.Fatalf("refused admission must not move cash, got %f", f.account.AvailableCash)
	}
}

func TestEntryParametersWalksTheBook(t *testing.T) {
	f := newFixture(nil, nil)
	stock := &model.TrackedStock{Symbol: "INFY", Exchange: "NSE"}
	f.depth.books["INFY"] = &model.MarketDepth{
		Sell: []model.DepthEntry{
			{Price: 10, Quantity: 3, Orders: 2}, // 6 units
			{Price: 11, Quantity: 5, Orders: 1}, // 5 units
		},
	}

	quantity, price := f.account.entryParameters(context.Background(), stock, model.SideLong)

	// 6 units at 10 = 60, then three units at 11 reach 93; a fourth would
	// pass the 100 allocation... with allocation 1000 all 11 units fit
	if quantity != 11 {
		t.Fatalf("expected all 11 units, got %d", quantity)
	}
	want := (60.0 + 55.0) / 11.0
	if math.Abs(price-want) > 1e-9 {
		t.Fatalf("expected vwap %f, got %f", want, price)
	}

	f.account.cfg.Allocation = 100
	quantity, price = f.account.entryParameters(context.Background(), stock, model.SideLong)
	if quantity != 9 {
		t.Fatalf("expected 9 units under the 100 allocation, got %d", quantity)
	}
	want = 93.0 / 9.0
	if math.Abs(price-want) > 1e-9 {
		t.Fatalf("expected vwap %f, got %f", want, price)
	}
}

func TestEntryParametersEmptyBook(t *testing.T) {
	f := newFixture(nil, nil)
	stock := &model.TrackedStock{Symbol: "GHOST", Exchange: "NSE"}

	quantity, price := f.account.entryParameters(context.Background(), stock, model.SideLong)
	if quantity != 0 || price != 0 {
		t.Fatalf("expected zero parameters for empty book, got %d %f", quantity, price)
	}
}

func TestEvaluateBuysOpensOnePositionPerSymbol(t *testing.T) {
	f := newFixture(nil, nil)
	f.depth.books["INFY"] = deepBook()
	f.account.Track(&model.TrackedStock{Symbol: "INFY"})

	report := &CycleReport{}
	f.account.EvaluateBuys(context.Background(), report)

	if report.Opened != 1 || len(f.account.Positions) != 1 {
		t.Fatalf("expected one opened position, got report=%+v positions=%d", report, len(f.account.Positions))
	}
	ps := f.account.Positions["INFY"]
	if ps.St.Side != model.SideLong || ps.St.ProductType != model.ProductDelivery {
		t.Fatalf("unexpected position shape: %+v", ps.St)
	}
	stock := f.account.Tracked["INFY"]
	if stock.FirstLoad || !stock.InPosition || stock.LastBuyPrice != 100 || stock.LastQuantity != ps.St.Quantity {
		t.Fatalf("tracked stock not updated after buy: %+v", stock)
	}

	// a second pass must not double-open
	f.account.EvaluateBuys(context.Background(), report)
	if len(f.exec.calls) != 1 || len(f.account.Positions) != 1 {
		t.Fatalf("expected no second order for an open symbol, calls=%d", len(f.exec.calls))
	}
}

func TestEvaluateBuysEvictsFirstLoadWithoutLiquidity(t *testing.T) {
	f := newFixture(nil, nil)
	f.account.Track(&model.TrackedStock{Symbol: "GHOST"})
	cashAfterTrack := f.account.AvailableCash

	report := &CycleReport{}
	f.account.EvaluateBuys(context.Background(), report)

	if _, ok := f.account.Tracked["GHOST"]; ok {
		t.Fatalf("expected first-load symbol with no liquidity to be evicted")
	}
	if f.account.AvailableCash != cashAfterTrack+1000 {
		t.Fatalf("expected slot refund on eviction, got %f", f.account.AvailableCash)
	}
}

func TestEvaluateBuysDecliningSignalKeepsSeasonedSymbol(t *testing.T) {
	f := newFixture(func(string) bool { return false }, nil)
	f.depth.books["INFY"] = deepBook()
	f.account.Track(&model.TrackedStock{Symbol: "INFY"})
	f.account.Tracked["INFY"].FirstLoad = false

	report := &CycleReport{}
	f.account.EvaluateBuys(context.Background(), report)

	if _, ok := f.account.Tracked["INFY"]; !ok {
		t.Fatalf("seasoned symbol must stay tracked when the signal declines")
	}
	if len(f.exec.calls) != 0 {
		t.Fatalf("no orders expected when the signal declines")
	}
}

func TestEvaluateBuysRejectedOrderLeavesStateUnchanged(t *testing.T) {
	f := newFixture(nil, nil)
	f.depth.books["INFY"] = deepBook()
	f.account.Track(&model.TrackedStock{Symbol: "INFY"})
	f.exec.fail["INFY"] = errors.New("order rejected")
	cashBefore := f.account.AvailableCash

	report := &CycleReport{}
	f.account.EvaluateBuys(context.Background(), report)

	if len(f.account.Positions) != 0 {
		t.Fatalf("no position may exist after a rejected order")
	}
	if f.account.AvailableCash != cashBefore {
		t.Fatalf("cash must not move on a rejected order, got %f", f.account.AvailableCash)
	}
	if !f.account.Tracked["INFY"].FirstLoad {
		t.Fatalf("first-load must stay armed after a rejected order")
	}
	if len(report.Errors) != 1 || report.Errors[0].Symbol != "INFY" {
		t.Fatalf("expected the failure to be reported: %+v", report.Errors)
	}
}

func TestEvaluateShortsOpensIntraday(t *testing.T) {
	f := newFixture(nil, nil)
	f.depth.books["TCS"] = deepBook()
	f.account.TrackShort(&model.TrackedStock{Symbol: "TCS"})

	report := &CycleReport{}
	f.account.EvaluateShorts(context.Background(), report)

	ps, ok := f.account.ShortPositions["TCS"]
	if !ok {
		t.Fatalf("expected a short position")
	}
	if ps.St.Side != model.SideShort || ps.St.ProductType != model.ProductIntraday {
		t.Fatalf("short entries must be intraday shorts: %+v", ps.St)
	}
	// short sizing walks the buy side of the book
	if ps.St.EntryPrice != 99 {
		t.Fatalf("expected entry from the bid side, got %f", ps.St.EntryPrice)
	}
	if len(f.account.Positions) != 0 {
		t.Fatalf("short pool must not leak into the long pool")
	}
}

func TestSweepClosesOnRetraceAndSettles(t *testing.T) {
	f := newFixture(nil, nil)
	f.depth.books["INFY"] = &model.MarketDepth{
		Buy: []model.DepthEntry{{Price: 104, Quantity: 100, Orders: 3}},
	}

	stock := &model.TrackedStock{Symbol: "INFY", Exchange: "NSE", LastBuyPrice: 100, CreatedAt: time.Now()}
	trigger := 110.0
	st := &model.Stage{
		Symbol:      "INFY",
		EntryPrice:  100,
		Quantity:    10,
		ProductType: model.ProductDelivery,
		Side:        model.SideLong,
		Trigger:     &trigger,
		Target:      model.TargetPosition,
	}
	f.account.Tracked["INFY"] = stock
	f.account.Positions["INFY"] = stage.NewPositionStage(st, stock, stage.Config{}, f.depth, f.exec)
	cashBefore := f.account.AvailableCash

	report := &CycleReport{}
	f.account.Sweep(context.Background(), map[string]float64{"INFY": 104}, report)

	if report.Closed != 1 || len(f.account.Positions) != 0 {
		t.Fatalf("expected the retraced position to close: %+v", report)
	}
	if _, ok := f.account.Tracked["INFY"]; ok {
		t.Fatalf("closed symbol must leave tracking")
	}
	if f.account.AvailableCash != cashBefore+1000 {
		t.Fatalf("expected slot credit on close, got %f", f.account.AvailableCash)
	}
	if len(f.ledger.accumulated) != 1 || math.Abs(f.ledger.accumulated[0]-38.91) > 1e-6 {
		t.Fatalf("expected 38.91 accumulated into the ledger, got %+v", f.ledger.accumulated)
	}
	if math.Abs(stock.Wallet-38.91) > 1e-6 {
		t.Fatalf("expected the symbol wallet to bank 38.91, got %f", stock.Wallet)
	}
}

func TestSweepDropsInvalidPosition(t *testing.T) {
	f := newFixture(nil, nil)
	stock := &model.TrackedStock{Symbol: "BROKEN", Exchange: "NSE"}
	st := &model.Stage{Symbol: "BROKEN", EntryPrice: 100, Quantity: 0, Side: model.SideLong, ProductType: model.ProductDelivery}
	f.account.Tracked["BROKEN"] = stock
	f.account.Positions["BROKEN"] = stage.NewPositionStage(st, stock, stage.Config{}, f.depth, f.exec)
	cashBefore := f.account.AvailableCash

	report := &CycleReport{}
	f.account.Sweep(context.Background(), map[string]float64{"BROKEN": 90}, report)

	if _, ok := f.account.Positions["BROKEN"]; ok {
		t.Fatalf("invalid position must be dropped")
	}
	if _, ok := f.account.Tracked["BROKEN"]; ok {
		t.Fatalf("invalid symbol must leave tracking")
	}
	if f.account.AvailableCash != cashBefore+1000 {
		t.Fatalf("expected slot refund for the dropped symbol, got %f", f.account.AvailableCash)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected the invalid position to be reported: %+v", report.Errors)
	}
}

func TestCashNeverNegativeAcrossCycles(t *testing.T) {
	f := newFixture(nil, nil)
	symbols := []string{"A", "B", "C", "D", "E", "F", "G"}
	for _, s := range symbols {
		f.depth.books[s] = deepBook()
		f.account.Track(&model.TrackedStock{Symbol: s})
		if f.account.AvailableCash < 0 {
			t.Fatalf("cash went negative admitting %s: %f", s, f.account.AvailableCash)
		}
	}
	// 5000 / 1000 admits exactly five
	if len(f.account.Tracked) != 5 {
		t.Fatalf("expected five admitted symbols, got %d", len(f.account.Tracked))
	}
	if f.account.AvailableCash != 0 {
		t.Fatalf("expected zero cash after five slots, got %f", f.account.AvailableCash)
	}

	report := &CycleReport{}
	f.account.EvaluateBuys(context.Background(), report)
	if f.account.AvailableCash < 0 {
		t.Fatalf("cash went negative after buys: %f", f.account.AvailableCash)
	}
}

func TestLoadRebuildsPositionsFromHoldings(t *testing.T) {
	f := newFixture(nil, nil)
	trigger := 120.0
	f.holdings.rows["INFY"] = model.Stage{
		Symbol:      "INFY",
		EntryPrice:  100,
		Quantity:    10,
		ProductType: model.ProductDelivery,
		Side:        model.SideLong,
		Trigger:     &trigger,
		OpenedAt:    time.Now().AddDate(0, 0, -3),
	}
	f.stocks.rows["INFY"] = model.TrackedStock{Symbol: "INFY", Exchange: "NSE", LastBuyPrice: 100}
	f.stocks.rows["TCS"] = model.TrackedStock{Symbol: "TCS", Exchange: "NSE"}

	if err := f.account.Load(context.Background(), 5000, map[string]float64{"INFY": 101.5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ps, ok := f.account.Positions["INFY"]
	if !ok {
		t.Fatalf("expected the holding to become a live position")
	}
	if ps.St.Target != model.TargetPosition {
		t.Fatalf("expected position target, got %s", ps.St.Target)
	}
	if ps.St.EntryPrice != 101.5 {
		t.Fatalf("expected broker average price refresh, got %f", ps.St.EntryPrice)
	}
	if ps.St.Trigger == nil || *ps.St.Trigger != 120 {
		t.Fatalf("trigger must survive the holding round trip")
	}

	// one holding-backed symbol and one fresh symbol:
	// starting 5000 + 1*1000, available 5000 - (2-1)*1000
	if f.account.StartingCash != 6000 {
		t.Fatalf("expected starting cash 6000, got %f", f.account.StartingCash)
	}
	if f.account.AvailableCash != 4000 {
		t.Fatalf("expected available cash 4000, got %f", f.account.AvailableCash)
	}
}

func TestPersistReconcilesSoldRecords(t *testing.T) {
	f := newFixture(nil, nil)
	f.stocks.rows["SOLD"] = model.TrackedStock{Symbol: "SOLD", Exchange: "NSE"}
	f.stocks.rows["KEPT"] = model.TrackedStock{Symbol: "KEPT", Exchange: "NSE"}
	f.holdings.rows["SOLD"] = model.Stage{Symbol: "SOLD", EntryPrice: 50, Quantity: 5, ProductType: model.ProductDelivery, Side: model.SideLong}
	f.holdings.rows["KEPT"] = model.Stage{Symbol: "KEPT", EntryPrice: 80, Quantity: 4, ProductType: model.ProductDelivery, Side: model.SideLong}

	if err := f.account.Load(context.Background(), 5000, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// SOLD closes during the session
	delete(f.account.Positions, "SOLD")
	delete(f.account.Tracked, "SOLD")

	if err := f.account.Persist(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.stocks.deleted) != 1 || f.stocks.deleted[0] != "SOLD" {
		t.Fatalf("expected the sold stock record to be deleted, got %+v", f.stocks.deleted)
	}
	if len(f.holdings.deleted) != 1 || f.holdings.deleted[0] != "SOLD" {
		t.Fatalf("expected the sold holding record to be deleted, got %+v", f.holdings.deleted)
	}
	if _, ok := f.holdings.rows["KEPT"]; !ok {
		t.Fatalf("surviving position must be stored as a holding")
	}
}
