package batch

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/michaelpento.lv/lendcore/gas"
	"github.com/michaelpento.lv/lendcore/types"
	"github.com/michaelpento.lv/lendcore/utils/metrics"
	"github.com/michaelpento.lv/lendcore/validation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	poolAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdcAddr = common.HexToAddress("0x2000000000000000000000000000000000000002")
	wethAddr = common.HexToAddress("0x3000000000000000000000000000000000000003")
	userAddr = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

type mockSender struct {
	mu    sync.Mutex
	sent  []types.TxPayload
	err   error
	hash  common.Hash
	block chan struct{}
}

func (m *mockSender) SendTx(ctx context.Context, payload types.TxPayload) (common.Hash, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, payload)
	if m.err != nil {
		return common.Hash{}, m.err
	}
	return m.hash, nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeTask struct {
	f       func()
	stopped bool
	ran     bool
}

func (t *fakeTask) Stop() bool {
	if t.ran || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeScheduler struct {
	tasks []*fakeTask
	delay time.Duration
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Cancel {
	s.delay = d
	t := &fakeTask{f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// fire runs the most recent task even if it was stopped, as a timer racing Stop would
func (s *fakeScheduler) fire() {
	t := s.tasks[len(s.tasks)-1]
	t.ran = true
	t.f()
}

type recorder struct {
	routes []string
	links  []string
}

func (r *recorder) Push(route string) { r.routes = append(r.routes, route) }
func (r *recorder) Open(url string)   { r.links = append(r.links, url) }

type explorer struct{}

func (explorer) TxLink(hash common.Hash) string {
	return "https://evm.flowscan.io/tx/" + hash.Hex()
}

type fixture struct {
	orch      *Orchestrator
	builder   *AccountBuilder
	sender    *mockSender
	scheduler *fakeScheduler
	rec       *recorder
	reg       *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	builder, err := NewAccountBuilder(userAddr, nil)
	require.NoError(t, err)

	f := &fixture{
		sender:    &mockSender{hash: common.HexToHash("0xabc")},
		scheduler: &fakeScheduler{},
		rec:       &recorder{},
		reg:       prometheus.NewRegistry(),
	}
	f.builder = builder
	f.orch, err = NewOrchestrator(Config{
		Sender:       f.sender,
		Builder:      builder,
		Limits:       gas.StaticLimitEstimator{},
		Fees:         gas.NewStaticEstimator(big.NewInt(9e9), big.NewInt(1e9)),
		Navigator:    f.rec,
		Opener:       f.rec,
		Explorer:     explorer{},
		Scheduler:    f.scheduler,
		NativeSymbol: "WFLOW",
		ExplorerName: "FlowScan",
		Namespace:    "test",
		Registerer:   f.reg,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return f
}

func supplyGroup(amount string) types.BatchTransactionGroup {
	return types.NewBatchTransactionGroup(
		types.BatchTransaction{
			Action:      types.ActionApprove,
			PoolAddress: usdcAddr,
			Amount:      decimal.RequireFromString(amount),
			Symbol:      "USDC",
			Tx:          types.TxPayload{From: userAddr, To: usdcAddr, Data: []byte{0x09, 0x5e, 0xa7, 0xb3}},
		},
		types.BatchTransaction{
			Action:      types.ActionSupply,
			PoolAddress: usdcAddr,
			Amount:      decimal.RequireFromString(amount),
			Symbol:      "USDC",
			Tx:          types.TxPayload{From: userAddr, To: poolAddr, Data: []byte{0x61, 0x7b, 0xa0, 0x37}},
		},
	)
}

func borrowGroup(amount string) types.BatchTransactionGroup {
	return types.NewBatchTransactionGroup(
		types.BatchTransaction{
			Action:      types.ActionDelegate,
			PoolAddress: wethAddr,
			Symbol:      "WETH",
			Tx:          types.TxPayload{From: userAddr, To: wethAddr, Data: []byte{0xc0, 0x4a, 0x8a, 0x10}},
		},
		types.BatchTransaction{
			Action:      types.ActionBorrow,
			PoolAddress: wethAddr,
			Amount:      decimal.RequireFromString(amount),
			Symbol:      "WETH",
			Tx:          types.TxPayload{From: userAddr, To: poolAddr, Data: []byte{0xa4, 0x15, 0xbc, 0xad}},
		},
	)
}

func snapshot() *types.MarketSnapshot {
	return &types.MarketSnapshot{
		Reserves: []types.ReserveState{
			{UnderlyingAsset: usdcAddr, Symbol: "USDC", Decimals: 6,
				PriceInMarketReferenceCurrency: decimal.NewFromInt(1),
				PriceInUSD:                     decimal.NewFromInt(1)},
			{UnderlyingAsset: wethAddr, Symbol: "WETH", Decimals: 18,
				PriceInMarketReferenceCurrency: decimal.NewFromInt(2500),
				PriceInUSD:                     decimal.NewFromInt(2500)},
			{Symbol: "WFLOW", Decimals: 18, PriceInUSD: decimal.RequireFromString("0.5")},
		},
		MarketReferencePriceInUSD: decimal.NewFromInt(100_000_000),
		USDDecimals:               8,
	}
}

func TestNewOrchestrator(t *testing.T) {
	_, err := NewOrchestrator(Config{})
	assert.Error(t, err)

	_, err = NewOrchestrator(Config{Sender: &mockSender{}})
	assert.Error(t, err)

	builder, err := NewAccountBuilder(userAddr, nil)
	require.NoError(t, err)
	orch, err := NewOrchestrator(Config{Sender: &mockSender{}, Builder: builder})
	require.NoError(t, err)
	assert.Equal(t, "Execute Batch", orch.ButtonLabel())
}

func TestAddGroup(t *testing.T) {
	f := newFixture(t)
	group := supplyGroup("100")
	f.orch.AddGroup(group)
	f.orch.AddGroup(types.BatchTransactionGroup{})

	groups := f.orch.Groups()
	require.Len(t, groups, 1)
	assert.NotEqual(t, group.ID, groups[0].ID)

	// the caller's slice is not shared
	group.Items[1].Amount = decimal.NewFromInt(1)
	assert.Equal(t, "100", f.orch.Groups()[0].Items[1].Amount.String())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.orch.metrics.Groups))
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	f.orch.AddGroup(supplyGroup("100"))

	f.sender.block = make(chan struct{})
	done := make(chan error)
	go func() { done <- f.orch.Approve(context.Background(), 0, 0) }()

	require.Eventually(t, func() bool {
		return f.orch.Groups()[0].Items[0].Status == types.StatusPending
	}, time.Second, time.Millisecond)
	assert.Equal(t, types.StatusIdle, f.orch.Groups()[0].Items[1].Status)

	close(f.sender.block)
	require.NoError(t, <-done)

	items := f.orch.Groups()[0].Items
	assert.Equal(t, types.StatusApproved, items[0].Status)
	assert.Equal(t, types.StatusIdle, items[1].Status)
	assert.Equal(t, usdcAddr, f.sender.sent[0].To)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.orch.metrics.Approvals.WithLabelValues("approved")))

	// approved is final
	assert.ErrorIs(t, f.orch.Approve(context.Background(), 0, 0), ErrInvalidTransition)
	assert.ErrorIs(t, f.orch.Approve(context.Background(), 0, 1), ErrNotApproval)
	assert.ErrorIs(t, f.orch.Approve(context.Background(), 3, 0), ErrIndexOutOfRange)
}

func TestApproveRejected(t *testing.T) {
	f := newFixture(t)
	f.orch.AddGroup(supplyGroup("100"))
	f.orch.AddGroup(borrowGroup("1"))
	f.sender.err = errors.New("user rejected")

	err := f.orch.Approve(context.Background(), 1, 0)
	require.Error(t, err)

	groups := f.orch.Groups()
	assert.Equal(t, types.StatusIdle, groups[0].Items[0].Status)
	assert.Equal(t, types.StatusFailed, groups[1].Items[0].Status)
	assert.ErrorIs(t, f.orch.UpdateItemStatus(1, 0, types.StatusPending), ErrInvalidTransition)
}

func TestUpdateItemStatus(t *testing.T) {
	f := newFixture(t)
	f.orch.AddGroup(supplyGroup("100"))

	assert.ErrorIs(t, f.orch.UpdateItemStatus(0, 0, types.StatusApproved), ErrInvalidTransition)
	require.NoError(t, f.orch.UpdateItemStatus(0, 0, types.StatusPending))
	require.NoError(t, f.orch.UpdateItemStatus(0, 0, types.StatusApproved))
	assert.ErrorIs(t, f.orch.UpdateItemStatus(0, 5, types.StatusPending), ErrIndexOutOfRange)
	assert.ErrorIs(t, f.orch.UpdateItemStatus(-1, 0, types.StatusPending), ErrIndexOutOfRange)
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t)
	f.orch.AddGroup(supplyGroup("100"))
	f.orch.AddGroup(borrowGroup("1"))

	txs := f.orch.Transactions(snapshot())
	require.Len(t, txs, 2)
	assert.Equal(t, types.ActionBorrow, txs[1].Action)
	assert.Equal(t, 1, txs[1].GroupIndex)
	assert.Equal(t, 1, txs[1].ItemIndex)

	// removing the supply drops its approval too
	require.NoError(t, f.orch.RemoveItem(0))
	groups := f.orch.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, types.ActionBorrow, groups[0].Items[1].Action)

	assert.ErrorIs(t, f.orch.RemoveItem(1), ErrIndexOutOfRange)
	require.NoError(t, f.orch.RemoveItem(0))
	assert.Empty(t, f.orch.Groups())
	assert.Equal(t, float64(0), testutil.ToFloat64(f.orch.metrics.Groups))
}

func TestApproveFollowsItemAfterRemoval(t *testing.T) {
	f := newFixture(t)
	supply := supplyGroup("100")
	borrow := borrowGroup("1").Items[1]
	// supply first so removing it shifts the approval down by one
	f.orch.AddGroup(types.NewBatchTransactionGroup(supply.Items[1], supply.Items[0], borrow))

	f.sender.block = make(chan struct{})
	done := make(chan error)
	go func() { done <- f.orch.Approve(context.Background(), 0, 1) }()
	require.Eventually(t, func() bool {
		return f.orch.Groups()[0].Items[1].Status == types.StatusPending
	}, time.Second, time.Millisecond)

	require.NoError(t, f.orch.RemoveItem(0))
	close(f.sender.block)
	require.NoError(t, <-done)

	items := f.orch.Groups()[0].Items
	require.Len(t, items, 2)
	assert.Equal(t, types.ActionApprove, items[0].Action)
	assert.Equal(t, types.StatusApproved, items[0].Status)
	assert.Equal(t, types.ActionBorrow, items[1].Action)
	assert.Equal(t, types.StatusIdle, items[1].Status)
}

func TestRemoveItemKeepsGroupWithRemainingAction(t *testing.T) {
	f := newFixture(t)
	group := supplyGroup("100")
	group.Items = append(group.Items, types.BatchTransaction{
		Action: types.ActionBorrow, PoolAddress: wethAddr, Amount: decimal.NewFromInt(1), Symbol: "WETH",
		Tx: types.TxPayload{To: poolAddr, Data: []byte{1}},
	})
	f.orch.AddGroup(group)

	require.NoError(t, f.orch.RemoveItem(0))
	groups := f.orch.Groups()
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Items, 2)
	assert.Equal(t, types.ActionApprove, groups[0].Items[0].Action)
	assert.Equal(t, types.ActionBorrow, groups[0].Items[1].Action)
}

func TestTransactionsUSD(t *testing.T) {
	f := newFixture(t)
	f.orch.AddGroup(supplyGroup("100"))
	f.orch.AddGroup(borrowGroup("2"))
	f.orch.AddGroup(types.NewBatchTransactionGroup(
		types.BatchTransaction{Action: types.ActionWithdraw, PoolAddress: common.HexToAddress("0x99"),
			Amount: decimal.NewFromInt(5), Symbol: "???", Tx: types.TxPayload{To: poolAddr, Data: []byte{1}}},
		types.BatchTransaction{Action: types.ActionRepay, Hidden: true, Tx: types.TxPayload{To: poolAddr, Data: []byte{1}}},
	))

	txs := f.orch.Transactions(snapshot())
	require.Len(t, txs, 3)
	assert.True(t, txs[0].AmountUSD.Equal(decimal.NewFromInt(100)), txs[0].AmountUSD.String())
	assert.True(t, txs[1].AmountUSD.Equal(decimal.NewFromInt(5000)), txs[1].AmountUSD.String())
	assert.True(t, txs[2].AmountUSD.IsZero())

	approvals := f.orch.Approvals()
	require.Len(t, approvals, 2)
	assert.Equal(t, 1, approvals[1].GroupIndex)
	assert.Equal(t, 0, approvals[1].ItemIndex)
}

func TestGasCost(t *testing.T) {
	f := newFixture(t)
	cost, err := f.orch.GasCost(context.Background(), snapshot())
	require.NoError(t, err)
	assert.Zero(t, cost.Limit)

	f.orch.AddGroup(supplyGroup("100"))
	cost, err = f.orch.GasCost(context.Background(), snapshot())
	require.NoError(t, err)
	assert.Equal(t, uint64(365_000), cost.Limit)
	// 365k gas at 10 gwei, priced at $0.5
	assert.True(t, cost.Native.Equal(decimal.RequireFromString("0.00365")), cost.Native.String())
	assert.True(t, cost.USD.Equal(decimal.RequireFromString("0.001825")), cost.USD.String())

	cost, err = f.orch.GasCost(context.Background(), &types.MarketSnapshot{})
	require.NoError(t, err)
	assert.True(t, cost.USD.IsZero())
}

func TestExecuteEmptyBatch(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, res.IsError())
	assert.Equal(t, validation.EmptyBatch{}, res.Error)
	assert.Equal(t, "No transactions in batch", res.Error.Message())
	assert.Zero(t, f.sender.count())
}

func TestExecuteSuccessAndAutoClear(t *testing.T) {
	f := newFixture(t)
	f.orch.Open()
	f.orch.AddGroup(supplyGroup("100"))
	f.orch.AddGroup(borrowGroup("1"))
	assert.Equal(t, "Supply and Borrow", f.orch.ButtonLabel())

	res, err := f.orch.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.Equal(t, "https://evm.flowscan.io/tx/"+f.sender.hash.Hex(), res.ExplorerURL)
	assert.Equal(t, userAddr, f.sender.sent[0].From)
	assert.Equal(t, userAddr, f.sender.sent[0].To)
	assert.Equal(t, "See transaction on FlowScan", f.orch.ButtonLabel())

	// a settled batch opens its link instead of resubmitting
	_, err = f.orch.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.sender.count())
	assert.Equal(t, []string{res.ExplorerURL}, f.rec.links)

	require.Len(t, f.scheduler.tasks, 1)
	assert.Equal(t, AutoClearDelay, f.scheduler.delay)
	assert.Len(t, f.orch.Groups(), 2)

	f.scheduler.fire()
	assert.Empty(t, f.orch.Groups())
	_, ok := f.orch.Result()
	assert.False(t, ok)
	assert.Equal(t, float64(1), metrics.CounterValue(f.orch.metrics.AutoClears))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.orch.metrics.SuccessRate))
}

func TestAddGroupAfterSettleStartsNewBatch(t *testing.T) {
	f := newFixture(t)
	f.orch.AddGroup(supplyGroup("100"))
	_, err := f.orch.Execute(context.Background())
	require.NoError(t, err)

	f.orch.AddGroup(borrowGroup("1"))
	assert.True(t, f.scheduler.tasks[0].stopped)
	_, ok := f.orch.Result()
	assert.False(t, ok)

	// the settled supply is gone, only the new borrow remains
	groups := f.orch.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, types.ActionBorrow, groups[0].Items[1].Action)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.orch.metrics.Groups))

	// a timer that already fired must not clear the new batch
	f.scheduler.fire()
	assert.Len(t, f.orch.Groups(), 1)
	assert.Equal(t, float64(0), metrics.CounterValue(f.orch.metrics.AutoClears))

	res, err := f.orch.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	require.Equal(t, 2, f.sender.count())

	calls := unpackCalls(t, f.builder, f.sender.sent[1].Data)
	require.Len(t, calls, 1)
	assert.Equal(t, poolAddr, calls[0].Target)
	assert.Equal(t, []byte{0xa4, 0x15, 0xbc, 0xad}, calls[0].Data)
}

func TestRemoveItemAfterSettle(t *testing.T) {
	f := newFixture(t)
	f.orch.AddGroup(supplyGroup("100"))
	f.orch.AddGroup(borrowGroup("1"))
	_, err := f.orch.Execute(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, f.orch.RemoveItem(0), ErrBatchSettled)
	assert.Len(t, f.orch.Groups(), 2)
	res, ok := f.orch.Result()
	require.True(t, ok)
	assert.True(t, res.IsSuccess())
	assert.False(t, f.scheduler.tasks[0].stopped)

	// still settled, so executing again only reopens the link
	_, err = f.orch.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.sender.count())
	assert.Len(t, f.rec.links, 1)
}

func TestExecuteFailureAllowsRetry(t *testing.T) {
	f := newFixture(t)
	f.orch.AddGroup(supplyGroup("100"))
	f.sender.err = errors.New("nonce too low")

	res, err := f.orch.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, res.IsError())
	assert.Equal(t, validation.CategorySubmission, res.Error.Category())
	assert.Len(t, f.orch.Groups(), 1)
	assert.Empty(t, f.scheduler.tasks)

	f.sender.err = nil
	res, err = f.orch.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())
	assert.Equal(t, 0.5, testutil.ToFloat64(f.orch.metrics.SuccessRate))
}

func TestExecuteBusy(t *testing.T) {
	f := newFixture(t)
	f.orch.AddGroup(supplyGroup("100"))

	f.orch.SetQuoteLoading(true)
	_, err := f.orch.Execute(context.Background())
	assert.ErrorIs(t, err, ErrBatchBusy)
	f.orch.SetQuoteLoading(false)

	f.sender.block = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.orch.Execute(context.Background())
	}()
	require.Eventually(t, f.orch.Submitting, time.Second, time.Millisecond)

	_, err = f.orch.Execute(context.Background())
	assert.ErrorIs(t, err, ErrBatchBusy)

	// closing does not cancel the submission
	f.orch.Close()
	close(f.sender.block)
	<-done
	assert.Equal(t, 1, f.sender.count())
	res, ok := f.orch.Result()
	require.True(t, ok)
	assert.True(t, res.IsSuccess())
}

func TestCloseAndClear(t *testing.T) {
	f := newFixture(t)
	f.orch.Open()
	f.orch.AddGroup(supplyGroup("100"))

	// closing without a result keeps the batch
	f.orch.Close()
	assert.False(t, f.orch.IsOpen())
	assert.Len(t, f.orch.Groups(), 1)

	f.orch.Open()
	_, err := f.orch.Execute(context.Background())
	require.NoError(t, err)
	f.orch.Close()
	assert.Empty(t, f.orch.Groups())
	assert.True(t, f.scheduler.tasks[0].stopped)

	f.orch.Clear()
	f.orch.Clear()
	assert.Empty(t, f.orch.Groups())
	assert.Equal(t, "Execute Batch", f.orch.ButtonLabel())
}

func TestButtonLabel(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Execute Batch", f.orch.ButtonLabel())

	f.orch.AddGroup(borrowGroup("1"))
	assert.Equal(t, "Borrow", f.orch.ButtonLabel())

	f.orch.AddGroup(supplyGroup("1"))
	f.orch.AddGroup(types.NewBatchTransactionGroup(types.BatchTransaction{Action: types.ActionWithdraw}))
	f.orch.AddGroup(types.NewBatchTransactionGroup(types.BatchTransaction{Action: types.ActionSupply}))
	assert.Equal(t, "Supply, Borrow and Withdraw", f.orch.ButtonLabel())
}

func TestExploreMarkets(t *testing.T) {
	f := newFixture(t)
	f.orch.Open()
	f.orch.ExploreMarkets()
	assert.False(t, f.orch.IsOpen())
	assert.Equal(t, []string{MarketsRoute}, f.rec.routes)
}

func TestBatchTransactionPayload(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.BatchTransactionPayload(context.Background())
	assert.Error(t, err)

	f.orch.AddGroup(supplyGroup("100"))
	payload, err := f.orch.BatchTransactionPayload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, userAddr, payload.To)
	assert.Equal(t, userAddr, payload.From)
}
