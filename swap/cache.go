package swap

import (
	"fmt"
	"time"

	"github.com/michaelpento.lv/lendcore/types"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
)

type cachedQuote struct {
	quote   types.SwapQuote
	expires time.Time
}

// quoteCache memoizes successful quotes by request identity for a short TTL
type quoteCache struct {
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

func newQuoteCache(size int, ttl time.Duration, now func() time.Time) (*quoteCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote cache: %w", err)
	}
	return &quoteCache{cache: cache, ttl: ttl, now: now}, nil
}

// requestKey hashes the fields that change what the aggregator would return
func requestKey(req Request) uint64 {
	d := xxhash.New()
	fmt.Fprintf(d, "%d|%s|%s|%s|%s|%s|%s|%t",
		req.ChainID,
		req.User.Hex(),
		req.Source.Address.Hex(),
		req.Target.Address.Hex(),
		req.Variant,
		req.Amount.String(),
		req.MaxSlippage.String(),
		req.Max,
	)
	return d.Sum64()
}

func (c *quoteCache) get(key uint64) (types.SwapQuote, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return types.SwapQuote{}, false
	}
	entry := v.(cachedQuote)
	if !c.now().Before(entry.expires) {
		c.cache.Remove(key)
		return types.SwapQuote{}, false
	}
	return entry.quote, true
}

func (c *quoteCache) add(key uint64, q types.SwapQuote) {
	c.cache.Add(key, cachedQuote{quote: q, expires: c.now().Add(c.ttl)})
}

func (c *quoteCache) purge() {
	c.cache.Purge()
}
