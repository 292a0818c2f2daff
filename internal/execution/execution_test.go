package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/tradeguard/internal/exchange"
	"github.com/chidi150c/tradeguard/internal/retry"
	"github.com/chidi150c/tradeguard/internal/trade"
	"github.com/chidi150c/tradeguard/internal/util"
)

const symbol = "BTC/USDT"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Send(_ context.Context, m string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

// scripted wraps the paper venue so tests can inject failures and statuses.
type scripted struct {
	*exchange.Paper
	calls     []string
	submitErr error
	fetchErr  error
	status    exchange.OrderStatus
	costs     []string
	filled    string
}

func (s *scripted) MinOrderSize(ctx context.Context, sym string) (decimal.Decimal, error) {
	s.calls = append(s.calls, "min")
	return s.Paper.MinOrderSize(ctx, sym)
}

func (s *scripted) CreateMarketBuyOrder(ctx context.Context, sym string, amt decimal.Decimal) (exchange.Order, error) {
	s.calls = append(s.calls, "buy")
	return s.order(ctx, sym, amt, s.Paper.CreateMarketBuyOrder)
}

func (s *scripted) CreateMarketSellOrder(ctx context.Context, sym string, amt decimal.Decimal) (exchange.Order, error) {
	s.calls = append(s.calls, "sell")
	return s.order(ctx, sym, amt, s.Paper.CreateMarketSellOrder)
}

func (s *scripted) order(ctx context.Context, sym string, amt decimal.Decimal,
	fn func(context.Context, string, decimal.Decimal) (exchange.Order, error)) (exchange.Order, error) {
	if s.submitErr != nil {
		return exchange.Order{}, s.submitErr
	}
	o, err := fn(ctx, sym, amt)
	if err != nil {
		return o, err
	}
	if len(s.costs) > 0 {
		o.Cost, s.costs = d(s.costs[0]), s.costs[1:]
	}
	if s.filled != "" {
		o.Amount = d(s.filled)
	}
	return o, nil
}

func (s *scripted) FetchOrder(ctx context.Context, id, sym string) (exchange.Order, error) {
	s.calls = append(s.calls, "fetch")
	if s.fetchErr != nil {
		return exchange.Order{}, s.fetchErr
	}
	o, err := s.Paper.FetchOrder(ctx, id, sym)
	if s.status != "" {
		o.Status = s.status
	}
	return o, err
}

type memJournal struct {
	appended  []trade.Record
	unmatched []bool
	profits   map[string]decimal.Decimal
}

func (m *memJournal) Append(_ context.Context, r trade.Record, unmatched bool) error {
	m.appended = append(m.appended, r)
	m.unmatched = append(m.unmatched, unmatched)
	return nil
}

func (m *memJournal) SetProfit(_ context.Context, id string, p decimal.Decimal) error {
	if m.profits == nil {
		m.profits = map[string]decimal.Decimal{}
	}
	m.profits[id] = p
	return nil
}

type fixture struct {
	ex      *scripted
	exec    *Executor
	clock   *util.ManualClock
	notes   *recordingNotifier
	journal *memJournal
	history *trade.History
}

func newFixture(t *testing.T, minOrder string) *fixture {
	t.Helper()
	paper, err := exchange.NewPaper(symbol, d("1000000"), d("100"), d(minOrder))
	require.NoError(t, err)
	f := &fixture{
		ex:      &scripted{Paper: paper},
		clock:   util.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		notes:   &recordingNotifier{},
		journal: &memJournal{},
		history: trade.NewHistory(),
	}
	f.exec = New(f.ex, Config{Symbol: symbol, RateLimitCooldown: time.Minute}, f.notes, f.clock, f.journal)
	return f
}

func TestFIFOSellAttribution(t *testing.T) {
	f := newFixture(t, "0.001")
	ctx := context.Background()
	f.ex.costs = []string{"100", "110", "130"}

	require.True(t, f.exec.Execute(ctx, trade.Buy, d("1"), d("100"), f.history).OK())
	require.True(t, f.exec.Execute(ctx, trade.Buy, d("1"), d("110"), f.history).OK())
	rep := f.exec.Execute(ctx, trade.Sell, d("1"), d("130"), f.history)
	require.True(t, rep.OK())
	require.NotNil(t, rep.Profit)
	assert.True(t, rep.Profit.Equal(d("30")), rep.Profit.String())
	assert.False(t, rep.Unmatched)

	first, second := f.history.At(0), f.history.At(1)
	assert.True(t, first.Sold)
	require.NotNil(t, first.Profit)
	assert.True(t, first.Profit.Equal(d("30")))
	assert.False(t, second.Sold)
	assert.Nil(t, second.Profit)

	assert.Equal(t, 3, f.history.Len(), "SELL leg recorded too")
	assert.Equal(t, trade.Sell, f.history.At(2).Action)
	assert.Len(t, f.journal.appended, 3)
	assert.True(t, f.journal.profits[first.OrderID].Equal(d("30")))
}

func TestRecordsQuantityRoundedByVenue(t *testing.T) {
	f := newFixture(t, "0.001")
	f.ex.filled = "0.00157"
	f.ex.costs = []string{"0"}

	rep := f.exec.Execute(context.Background(), trade.Buy, d("0.0015758672943241"), d("100"), f.history)
	require.True(t, rep.OK())
	rec := f.history.At(0)
	assert.True(t, rec.Amount.Equal(d("0.00157")), rec.Amount.String())
	assert.True(t, rec.Cost.Equal(d("0.157")), "cost falls back to the filled quantity")
}

func TestBelowMinimumIsRejectedWithoutSubmission(t *testing.T) {
	f := newFixture(t, "0.001")

	rep := f.exec.Execute(context.Background(), trade.Buy, d("0.0005"), d("100"), f.history)
	assert.False(t, rep.OK())
	assert.Equal(t, Rejected, rep.State)
	assert.Equal(t, []string{"min"}, f.ex.calls)
	assert.Zero(t, f.history.Len())
}

func TestNonPositiveAmountIsRejected(t *testing.T) {
	f := newFixture(t, "0.001")
	rep := f.exec.Execute(context.Background(), trade.Buy, d("0"), d("100"), f.history)
	assert.Equal(t, Rejected, rep.State)
	assert.Empty(t, f.ex.calls)
}

func TestHoldMakesNoCalls(t *testing.T) {
	f := newFixture(t, "0.001")
	rep := f.exec.Execute(context.Background(), trade.Hold, d("1"), d("100"), f.history)
	assert.True(t, rep.OK())
	assert.Equal(t, Hold, rep.State)
	assert.Empty(t, f.ex.calls)
	assert.Zero(t, f.history.Len())
}

func TestUnmatchedSellIsRecordedAndFlagged(t *testing.T) {
	f := newFixture(t, "0.001")
	ctx := context.Background()
	require.True(t, f.exec.Execute(ctx, trade.Buy, d("2"), d("100"), trade.NewHistory()).OK(), "fund base balance")

	rep := f.exec.Execute(ctx, trade.Sell, d("1"), d("100"), f.history)
	assert.True(t, rep.OK())
	assert.True(t, rep.Unmatched)
	assert.Nil(t, rep.Profit)
	assert.Equal(t, 1, f.history.Len())
	assert.Equal(t, []bool{false, true}, f.journal.unmatched)
}

func TestOrderNotClosedIsNotOK(t *testing.T) {
	for status, want := range map[exchange.OrderStatus]State{
		exchange.StatusOpen:     Open,
		exchange.StatusCanceled: Canceled,
		exchange.StatusExpired:  Canceled,
		"weird":                 Unknown,
	} {
		f := newFixture(t, "0.001")
		f.ex.status = status
		rep := f.exec.Execute(context.Background(), trade.Buy, d("1"), d("100"), f.history)
		assert.False(t, rep.OK(), string(status))
		assert.Equal(t, want, rep.State, string(status))
		assert.Equal(t, 1, f.history.Len(), "submission already recorded")
	}
}

func TestFetchOrderFailureIsUnknown(t *testing.T) {
	f := newFixture(t, "0.001")
	f.ex.fetchErr = errors.New("network down")
	rep := f.exec.Execute(context.Background(), trade.Buy, d("1"), d("100"), f.history)
	assert.Equal(t, Unknown, rep.State)
	assert.Equal(t, FailureOther, rep.Failure)
	assert.False(t, rep.OK())
}

func TestInsufficientFundsAlerts(t *testing.T) {
	f := newFixture(t, "0.001")
	rep := f.exec.Execute(context.Background(), trade.Sell, d("1"), d("100"), f.history)
	assert.Equal(t, Failed, rep.State)
	assert.Equal(t, FailureInsufficientFunds, rep.Failure)
	require.Len(t, f.notes.msgs, 1)
	assert.Contains(t, f.notes.msgs[0], "Insufficient funds")
	assert.Empty(t, f.clock.Sleeps())
	assert.Zero(t, f.history.Len())
}

func TestRateLimitedCoolsDown(t *testing.T) {
	f := newFixture(t, "0.001")
	f.ex.submitErr = &retry.ExhaustedError{Op: "create_buy_order", Attempts: 5, Last: &exchange.APIError{Venue: "binance", Status: -1003}}

	rep := f.exec.Execute(context.Background(), trade.Buy, d("1"), d("100"), f.history)
	assert.Equal(t, Failed, rep.State)
	assert.Equal(t, FailureRateLimited, rep.Failure)
	assert.Equal(t, []time.Duration{time.Minute}, f.clock.Sleeps())
	assert.Empty(t, f.notes.msgs)
}

func TestOtherFailureNeitherSleepsNorAlerts(t *testing.T) {
	f := newFixture(t, "0.001")
	f.ex.submitErr = errors.New("invalid symbol")
	rep := f.exec.Execute(context.Background(), trade.Buy, d("1"), d("100"), f.history)
	assert.Equal(t, FailureOther, rep.Failure)
	assert.Empty(t, f.clock.Sleeps())
	assert.Empty(t, f.notes.msgs)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, FailureNone, Classify(nil))
	assert.Equal(t, FailureInsufficientFunds, Classify(errors.Wrap(exchange.ErrInsufficientFunds, "x")))
	assert.Equal(t, FailureInsufficientFunds, Classify(errors.New("Account has insufficient balance")))
	assert.Equal(t, FailureRateLimited, Classify(errors.New("Rate limit exceeded")))
	assert.Equal(t, FailureOther, Classify(errors.New("boom")))
}
