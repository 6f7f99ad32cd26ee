// Package batch queues groups of dependent transactions, runs their approvals
// and executes the rest as a single transaction.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/michaelpento.lv/lendcore/gas"
	"github.com/michaelpento.lv/lendcore/types"
	lmath "github.com/michaelpento.lv/lendcore/utils/math"
	"github.com/michaelpento.lv/lendcore/utils/metrics"
	"github.com/michaelpento.lv/lendcore/validation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AutoClearDelay is how long a settled batch stays visible before it is cleared
const AutoClearDelay = 30 * time.Second

// MarketsRoute is where ExploreMarkets navigates
const MarketsRoute = "/markets"

var (
	ErrBatchBusy         = errors.New("batch is submitting or a quote is loading")
	ErrBatchSettled      = errors.New("batch has already settled")
	ErrIndexOutOfRange   = errors.New("batch index out of range")
	ErrInvalidTransition = errors.New("invalid item status transition")
	ErrNotApproval       = errors.New("item is not an approval or delegation")
)

// Config wires the orchestrator's collaborators
type Config struct {
	Sender    Sender
	Builder   PayloadBuilder
	Limits    gas.LimitEstimator
	Fees      FeeEstimator
	Navigator Navigator
	Opener    LinkOpener
	Explorer  Explorer
	// Scheduler defaults to time.AfterFunc
	Scheduler Scheduler
	// NativeSymbol is the reserve whose USD price prices gas, e.g. WFLOW
	NativeSymbol string
	// ExplorerName is shown on the settled-success button
	ExplorerName string
	Namespace    string
	Registerer   prometheus.Registerer
	Logger       *zap.Logger
}

// Orchestrator owns the queued batch. All mutation goes through its methods.
type Orchestrator struct {
	mu sync.Mutex

	groups       []types.BatchTransactionGroup
	result       *Result
	open         bool
	submitting   bool
	quoteLoading bool
	clearTask    Cancel
	clearEpoch   uint64

	sender       Sender
	builder      PayloadBuilder
	limits       gas.LimitEstimator
	fees         FeeEstimator
	navigator    Navigator
	opener       LinkOpener
	explorer     Explorer
	scheduler    Scheduler
	nativeSymbol string
	explorerName string

	logger  *zap.Logger
	metrics *metrics.BatchMetrics
}

// NewOrchestrator creates a new batch orchestrator
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("payload builder cannot be nil")
	}
	if cfg.Limits == nil {
		cfg.Limits = gas.StaticLimitEstimator{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = timeScheduler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ExplorerName == "" {
		cfg.ExplorerName = "explorer"
	}

	return &Orchestrator{
		sender:       cfg.Sender,
		builder:      cfg.Builder,
		limits:       cfg.Limits,
		fees:         cfg.Fees,
		navigator:    cfg.Navigator,
		opener:       cfg.Opener,
		explorer:     cfg.Explorer,
		scheduler:    cfg.Scheduler,
		nativeSymbol: cfg.NativeSymbol,
		explorerName: cfg.ExplorerName,
		logger:       cfg.Logger,
		metrics:      metrics.NewBatchMetrics(cfg.Namespace, cfg.Registerer),
	}, nil
}

// AddGroup appends a group. Queuing new work discards a previous result and
// any pending auto-clear. A settled batch is cleared first so its groups are
// never submitted again.
func (o *Orchestrator) AddGroup(group types.BatchTransactionGroup) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(group.Items) == 0 {
		return
	}
	if o.settledLocked() {
		o.clearLocked()
	}
	group = types.NewBatchTransactionGroup(group.Items...)
	o.groups = append(o.groups, group)
	o.result = nil
	o.cancelClearLocked()
	o.metrics.Groups.Set(float64(len(o.groups)))

	o.logger.Debug("Added batch group",
		zap.String("group", group.ID.String()),
		zap.Int("items", len(group.Items)))
}

// Groups returns a copy of the queued groups
func (o *Orchestrator) Groups() []types.BatchTransactionGroup {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyGroups(o.groups)
}

// RemoveItem removes the index-th entry of the Transactions view. A group left
// with no pool action is dropped with its approvals. A settled batch cannot be
// edited.
func (o *Orchestrator) RemoveItem(index int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.settledLocked() {
		return ErrBatchSettled
	}

	pos := 0
	for gi, group := range o.groups {
		for ii, item := range group.Items {
			if !visible(item) {
				continue
			}
			if pos == index {
				o.removeLocked(gi, ii)
				o.result = nil
				o.metrics.Groups.Set(float64(len(o.groups)))
				return nil
			}
			pos++
		}
	}
	return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
}

func (o *Orchestrator) removeLocked(gi, ii int) {
	group := o.groups[gi]
	items := make([]types.BatchTransaction, 0, len(group.Items)-1)
	items = append(items, group.Items[:ii]...)
	items = append(items, group.Items[ii+1:]...)

	for _, item := range items {
		if !item.Action.IsApproval() {
			o.groups[gi] = types.BatchTransactionGroup{ID: group.ID, Items: items}
			return
		}
	}
	o.groups = append(o.groups[:gi:gi], o.groups[gi+1:]...)
}

// UpdateItemStatus moves an item along idle -> pending -> approved | failed
func (o *Orchestrator) UpdateItemStatus(groupIndex, itemIndex int, status types.ItemStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	item, err := o.itemLocked(groupIndex, itemIndex)
	if err != nil {
		return err
	}
	if !item.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, item.Status, status)
	}
	item.Status = status
	return nil
}

func (o *Orchestrator) itemLocked(groupIndex, itemIndex int) (*types.BatchTransaction, error) {
	if groupIndex < 0 || groupIndex >= len(o.groups) {
		return nil, fmt.Errorf("%w: group %d", ErrIndexOutOfRange, groupIndex)
	}
	items := o.groups[groupIndex].Items
	if itemIndex < 0 || itemIndex >= len(items) {
		return nil, fmt.Errorf("%w: item %d of group %d", ErrIndexOutOfRange, itemIndex, groupIndex)
	}
	return &items[itemIndex], nil
}

// Approve submits an approval or delegation item on its own. The item is
// pending while in flight and ends approved or failed.
func (o *Orchestrator) Approve(ctx context.Context, groupIndex, itemIndex int) error {
	o.mu.Lock()
	item, err := o.itemLocked(groupIndex, itemIndex)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if !item.Action.IsApproval() {
		o.mu.Unlock()
		return ErrNotApproval
	}
	if !item.Status.CanTransition(types.StatusPending) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, item.Status, types.StatusPending)
	}
	item.Status = types.StatusPending
	groupID := o.groups[groupIndex].ID
	sent := *item
	o.mu.Unlock()

	_, sendErr := o.sender.SendTx(ctx, sent.Tx)

	next := types.StatusApproved
	if sendErr != nil {
		next = types.StatusFailed
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics.Approvals.WithLabelValues(string(next)).Inc()

	// items may have moved or been removed while the approval was in flight
	if target := o.findPendingLocked(groupID, sent); target != nil {
		target.Status = next
	}

	if sendErr != nil {
		o.logger.Warn("Approval failed",
			zap.String("action", string(sent.Action)),
			zap.String("symbol", sent.Symbol),
			zap.Error(sendErr))
		return fmt.Errorf("failed to send %s: %w", sent.Action, sendErr)
	}
	return nil
}

func (o *Orchestrator) findPendingLocked(groupID uuid.UUID, sent types.BatchTransaction) *types.BatchTransaction {
	for gi := range o.groups {
		if o.groups[gi].ID != groupID {
			continue
		}
		items := o.groups[gi].Items
		for ii := range items {
			if items[ii].Status == types.StatusPending && sameItem(items[ii], sent) {
				return &items[ii]
			}
		}
		return nil
	}
	return nil
}

func sameItem(a, b types.BatchTransaction) bool {
	return a.Action == b.Action &&
		a.Tx.From == b.Tx.From &&
		a.Tx.To == b.Tx.To &&
		bytes.Equal(a.Tx.Data, b.Tx.Data)
}

// Approvals lists approval and delegation items with their real indices
func (o *Orchestrator) Approvals() []Approval {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Approval
	for gi, group := range o.groups {
		for ii, item := range group.Items {
			if item.Action.IsApproval() {
				out = append(out, Approval{BatchTransaction: item, GroupIndex: gi, ItemIndex: ii})
			}
		}
	}
	return out
}

// Transactions is the user-facing list: visible pool actions with their USD
// value. Items with no matching reserve are worth zero.
func (o *Orchestrator) Transactions(snapshot *types.MarketSnapshot) []EnrichedTransaction {
	o.mu.Lock()
	groups := copyGroups(o.groups)
	o.mu.Unlock()

	var out []EnrichedTransaction
	for gi, group := range groups {
		for ii, item := range group.Items {
			if !visible(item) {
				continue
			}
			out = append(out, EnrichedTransaction{
				BatchTransaction: item,
				AmountUSD:        amountUSD(item, snapshot),
				GroupIndex:       gi,
				ItemIndex:        ii,
			})
		}
	}
	return out
}

func visible(item types.BatchTransaction) bool {
	return item.Action.IsPoolAction() && !item.Hidden
}

func amountUSD(item types.BatchTransaction, snapshot *types.MarketSnapshot) decimal.Decimal {
	reserve, ok := snapshot.ReserveByAsset(item.PoolAddress)
	if !ok {
		return decimal.Zero
	}
	return item.Amount.
		Mul(reserve.PriceInMarketReferenceCurrency).
		Mul(snapshot.MarketReferencePriceInUSD).
		Shift(-snapshot.USDDecimals)
}

// AggregateGasLimit sums gas limits over every item of the batch
func (o *Orchestrator) AggregateGasLimit(ctx context.Context) (uint64, error) {
	o.mu.Lock()
	var items []types.BatchTransaction
	for _, group := range o.groups {
		items = append(items, group.Items...)
	}
	o.mu.Unlock()

	if len(items) == 0 {
		return 0, nil
	}
	limit, err := o.limits.EstimateGasLimit(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas limit: %w", err)
	}
	o.metrics.GasLimit.Observe(float64(limit))
	return limit, nil
}

// GasCost prices the aggregate gas limit in native token and USD, using the
// native reserve's USD price from snapshot.
func (o *Orchestrator) GasCost(ctx context.Context, snapshot *types.MarketSnapshot) (GasCost, error) {
	limit, err := o.AggregateGasLimit(ctx)
	if err != nil {
		return GasCost{}, err
	}
	cost := GasCost{Limit: limit, Native: decimal.Zero, USD: decimal.Zero}
	if o.fees == nil || limit == 0 {
		return cost, nil
	}

	cost.Native = lmath.WeiToNative(o.fees.EstimateGasCost(limit))
	if native, ok := snapshot.ReserveBySymbol(o.nativeSymbol); ok {
		cost.USD = cost.Native.Mul(native.PriceInUSD)
	} else {
		o.logger.Debug("Native token reserve not loaded", zap.String("symbol", o.nativeSymbol))
	}
	return cost, nil
}

// BatchTransactionPayload builds the transaction that executes the batch
func (o *Orchestrator) BatchTransactionPayload(ctx context.Context) (types.TxPayload, error) {
	o.mu.Lock()
	groups := copyGroups(o.groups)
	o.mu.Unlock()

	if len(groups) == 0 {
		return types.TxPayload{}, fmt.Errorf("no transactions in batch")
	}
	payload, err := o.builder.BuildBatchPayload(ctx, groups)
	if err != nil {
		return types.TxPayload{}, fmt.Errorf("failed to build batch payload: %w", err)
	}
	return payload, nil
}

// SetQuoteLoading marks whether a swap quote is in flight. Execution waits for it.
func (o *Orchestrator) SetQuoteLoading(loading bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quoteLoading = loading
}

// Submitting reports whether Execute is in flight
func (o *Orchestrator) Submitting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.submitting
}

// Execute submits the batch. A settled batch instead opens its explorer link.
// An empty batch or a failed submission produces an error result and leaves
// the queued groups intact. ErrBatchBusy is returned while submitting or
// while a quote is loading.
func (o *Orchestrator) Execute(ctx context.Context) (Result, error) {
	o.mu.Lock()
	if o.settledLocked() {
		res := *o.result
		o.mu.Unlock()
		if o.opener != nil && res.ExplorerURL != "" {
			o.opener.Open(res.ExplorerURL)
		}
		return res, nil
	}
	if o.submitting || o.quoteLoading {
		o.mu.Unlock()
		return Result{}, ErrBatchBusy
	}
	if len(o.groups) == 0 {
		res := Result{Kind: ResultError, Error: validation.EmptyBatch{}}
		o.result = &res
		o.mu.Unlock()
		o.metrics.Executions.WithLabelValues("empty").Inc()
		return res, nil
	}
	o.submitting = true
	groups := copyGroups(o.groups)
	o.mu.Unlock()

	hash, err := o.submit(ctx, groups)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.submitting = false
	o.metrics.Total.Inc()

	if err != nil {
		o.logger.Error("Batch execution failed", zap.Int("groups", len(groups)), zap.Error(err))
		res := Result{Kind: ResultError, Error: validation.ExecutionFailed{Reason: err.Error()}}
		o.result = &res
		o.metrics.Executions.WithLabelValues("failed").Inc()
		metrics.SetRatio(o.metrics.SuccessRate, o.metrics.Successes, o.metrics.Total)
		return res, nil
	}

	res := Result{Kind: ResultSuccess, TxHash: hash}
	if o.explorer != nil {
		res.ExplorerURL = o.explorer.TxLink(hash)
	}
	o.result = &res
	o.metrics.Executions.WithLabelValues("success").Inc()
	o.metrics.Successes.Inc()
	o.metrics.BatchSize.Observe(float64(countItems(groups)))
	metrics.SetRatio(o.metrics.SuccessRate, o.metrics.Successes, o.metrics.Total)
	o.scheduleClearLocked()

	o.logger.Info("Batch executed",
		zap.String("tx", hash.Hex()),
		zap.Int("groups", len(groups)))
	return res, nil
}

func (o *Orchestrator) submit(ctx context.Context, groups []types.BatchTransactionGroup) (common.Hash, error) {
	payload, err := o.builder.BuildBatchPayload(ctx, groups)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to build batch payload: %w", err)
	}
	hash, err := o.sender.SendTx(ctx, payload)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send batch: %w", err)
	}
	return hash, nil
}

// Result returns the last execution result, if any
func (o *Orchestrator) Result() (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.result == nil {
		return Result{}, false
	}
	return *o.result, true
}

// Open shows the batch. Reopening keeps a settled batch around until it is closed.
func (o *Orchestrator) Open() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open = true
	o.cancelClearLocked()
}

// IsOpen reports whether the batch is shown
func (o *Orchestrator) IsOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open
}

// Close hides the batch. A batch with a result is also cleared. Closing never
// cancels an in-flight submission.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.result != nil {
		o.clearLocked()
	}
	o.open = false
}

// Clear drops every group and the result. Clearing an empty batch does nothing.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearLocked()
}

func (o *Orchestrator) settledLocked() bool {
	return o.result != nil && o.result.IsSuccess()
}

func (o *Orchestrator) clearLocked() {
	o.cancelClearLocked()
	if len(o.groups) == 0 && o.result == nil {
		return
	}
	o.groups = nil
	o.result = nil
	o.metrics.Groups.Set(0)
}

func (o *Orchestrator) scheduleClearLocked() {
	o.cancelClearLocked()
	epoch := o.clearEpoch
	o.clearTask = o.scheduler.AfterFunc(AutoClearDelay, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if epoch != o.clearEpoch {
			return
		}
		o.clearTask = nil
		o.clearLocked()
		o.metrics.AutoClears.Inc()
		o.logger.Debug("Settled batch auto-cleared")
	})
}

func (o *Orchestrator) cancelClearLocked() {
	o.clearEpoch++
	if o.clearTask != nil {
		o.clearTask.Stop()
		o.clearTask = nil
	}
}

// ExploreMarkets leaves the batch for the markets page
func (o *Orchestrator) ExploreMarkets() {
	o.mu.Lock()
	o.open = false
	o.mu.Unlock()
	if o.navigator != nil {
		o.navigator.Push(MarketsRoute)
	}
}

var labelOrder = []struct {
	action types.ActionKind
	label  string
}{
	{types.ActionSupply, "Supply"},
	{types.ActionBorrow, "Borrow"},
	{types.ActionRepay, "Repay"},
	{types.ActionWithdraw, "Withdraw"},
}

// ButtonLabel names the distinct pool actions queued, e.g. "Supply, Borrow and Repay"
func (o *Orchestrator) ButtonLabel() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.settledLocked() {
		return "See transaction on " + o.explorerName
	}
	if len(o.groups) == 0 {
		return "Execute Batch"
	}

	present := make(map[types.ActionKind]bool)
	for _, group := range o.groups {
		for _, item := range group.Items {
			present[item.Action] = true
		}
	}

	var labels []string
	for _, l := range labelOrder {
		if present[l.action] {
			labels = append(labels, l.label)
		}
	}

	switch len(labels) {
	case 0:
		return "Execute Batch"
	case 1:
		return labels[0]
	}
	return strings.Join(labels[:len(labels)-1], ", ") + " and " + labels[len(labels)-1]
}

func copyGroups(groups []types.BatchTransactionGroup) []types.BatchTransactionGroup {
	out := make([]types.BatchTransactionGroup, len(groups))
	for i, g := range groups {
		items := make([]types.BatchTransaction, len(g.Items))
		copy(items, g.Items)
		out[i] = types.BatchTransactionGroup{ID: g.ID, Items: items}
	}
	return out
}

func countItems(groups []types.BatchTransactionGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Items)
	}
	return n
}
