package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/michaelpento.lv/lendcore/repay"
	"github.com/michaelpento.lv/lendcore/types"
	"github.com/michaelpento.lv/lendcore/utils/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrStaleQuote is returned when a newer request superseded the one being answered
var ErrStaleQuote = errors.New("quote superseded by a newer request")

// EngineConfig tunes caching and throttling of aggregator calls
type EngineConfig struct {
	CacheSize  int
	CacheTTL   time.Duration
	RateLimit  float64
	RateBurst  int
	Namespace  string
	Registerer prometheus.Registerer
}

// DefaultEngineConfig returns sensible defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CacheSize: 128,
		CacheTTL:  15 * time.Second,
		RateLimit: 5,
		RateBurst: 2,
		Namespace: "lendcore",
	}
}

// AmountChange is a user edit of the repay amount
type AmountChange struct {
	// Value is a decimal string or repay.MaxSentinel
	Value string
	// SafeAmount is the safe repay-all amount of the debt
	SafeAmount decimal.Decimal
	// Balance is the collateral available to swap
	Balance decimal.Decimal
	// RequiredSource is the collateral needed to cover SafeAmount
	RequiredSource decimal.Decimal
}

// State is a snapshot of the engine
type State struct {
	Variant Variant
	// Amount is what the amount field shows. Empty after switching to exact-in
	// until a quote arrives.
	Amount     string
	Target     decimal.Decimal
	Generation uint64
	Quote      types.SwapQuote
}

// Engine resolves collateral-to-debt swap quotes and owns the variant state
type Engine struct {
	mu         sync.Mutex
	aggregator Aggregator
	cache      *quoteCache
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.QuoteMetrics
	now        func() time.Time

	variant    Variant
	amount     string
	target     decimal.Decimal
	generation uint64
	current    types.SwapQuote
}

// NewEngine creates a new quote engine in exact-out mode
func NewEngine(aggregator Aggregator, cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	if aggregator == nil {
		return nil, fmt.Errorf("aggregator cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultEngineConfig().CacheSize
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	e := &Engine{
		aggregator: aggregator,
		limiter:    rate.NewLimiter(limit, cfg.RateBurst),
		logger:     logger,
		metrics:    metrics.NewQuoteMetrics(cfg.Namespace, cfg.Registerer),
		now:        time.Now,
		variant:    VariantExactOut,
	}

	cache, err := newQuoteCache(cfg.CacheSize, cfg.CacheTTL, func() time.Time { return e.now() })
	if err != nil {
		return nil, err
	}
	e.cache = cache

	return e, nil
}

// SetRepayAmount applies a user edit. Selecting max when the balance cannot
// cover the debt switches to exact-in and clears the amount until the quote
// tells us what the balance buys. Any edit invalidates in-flight quotes.
func (e *Engine) SetRepayAmount(change AmountChange) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	isMax := strings.TrimSpace(change.Value) == repay.MaxSentinel
	prev := e.variant

	if isMax && change.Balance.LessThan(change.RequiredSource) {
		e.variant = VariantExactIn
		e.amount = ""
		e.target = decimal.Zero
	} else {
		e.variant = VariantExactOut
		e.amount = change.Value
		if isMax {
			e.target = change.SafeAmount
		} else {
			target, err := decimal.NewFromString(strings.TrimSpace(change.Value))
			if err != nil {
				target = decimal.Zero
			}
			e.target = target
		}
	}

	e.generation++
	e.current = types.SwapQuote{Loading: true}

	if prev != e.variant {
		e.logger.Debug("Swap variant switched",
			zap.String("from", string(prev)),
			zap.String("to", string(e.variant)))
	}

	return e.stateLocked()
}

// Quote fetches a quote for req using the engine's variant and target.
// A response superseded by a later Quote or SetRepayAmount yields ErrStaleQuote
// and leaves state untouched. Aggregator failures are reported on the quote's
// Error field.
func (e *Engine) Quote(ctx context.Context, req Request) (types.SwapQuote, error) {
	if req.Skip {
		e.metrics.Skipped.Inc()
		return e.Current(), nil
	}

	e.mu.Lock()
	e.generation++
	gen := e.generation
	req.Variant = e.variant
	if e.variant == VariantExactIn {
		req.Amount = req.SourceBalance
	} else {
		req.Amount = e.target
	}
	if req.Amount.Sign() <= 0 {
		e.current = types.SwapQuote{}
		e.mu.Unlock()
		return types.SwapQuote{}, nil
	}
	prev := e.current
	e.current = types.SwapQuote{
		InputAmount:     prev.InputAmount,
		InputAmountUSD:  prev.InputAmountUSD,
		OutputAmount:    prev.OutputAmount,
		OutputAmountUSD: prev.OutputAmountUSD,
		Loading:         true,
	}
	e.mu.Unlock()

	e.metrics.Requests.Inc()
	key := requestKey(req)

	if q, ok := e.cache.get(key); ok {
		e.metrics.CacheHits.Inc()
		return e.apply(gen, q)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return e.fail(gen, fmt.Errorf("failed to wait for quote rate limit: %w", err))
	}

	start := e.now()
	q, err := e.aggregator.GetQuote(ctx, req)
	e.metrics.Latency.Observe(e.now().Sub(start).Seconds())
	if err != nil {
		e.logger.Warn("Failed to fetch swap quote",
			zap.String("source", req.Source.Symbol),
			zap.String("target", req.Target.Symbol),
			zap.String("variant", string(req.Variant)),
			zap.Error(err))
		return e.fail(gen, err)
	}

	q.Loading = false
	q.Error = ""
	e.cache.add(key, q)
	return e.apply(gen, q)
}

func (e *Engine) apply(gen uint64, q types.SwapQuote) (types.SwapQuote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation {
		e.metrics.Stale.Inc()
		return types.SwapQuote{}, ErrStaleQuote
	}
	if e.variant == VariantExactIn {
		e.amount = q.OutputAmount.String()
	}
	e.current = q
	return q, nil
}

func (e *Engine) fail(gen uint64, err error) (types.SwapQuote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation {
		e.metrics.Stale.Inc()
		return types.SwapQuote{}, ErrStaleQuote
	}
	e.metrics.Errors.Inc()
	e.current = types.SwapQuote{Error: err.Error()}
	return e.current, nil
}

// Current returns the latest applied quote
func (e *Engine) Current() types.SwapQuote {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// State returns the engine's variant, amount and current quote
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Reset returns to exact-out with nothing entered and drops cached quotes
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.variant = VariantExactOut
	e.amount = ""
	e.target = decimal.Zero
	e.generation++
	e.current = types.SwapQuote{}
	e.cache.purge()
}

func (e *Engine) stateLocked() State {
	return State{
		Variant:    e.variant,
		Amount:     e.amount,
		Target:     e.target,
		Generation: e.generation,
		Quote:      e.current,
	}
}
