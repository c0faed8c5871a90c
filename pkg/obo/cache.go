package obo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
)

const (
	// expirySkew is subtracted from a token's expiry when deciding whether a
	// cached entry is still usable, so a request never leaves with a token
	// about to lapse mid-flight.
	expirySkew = 60 * time.Second

	// sweepInterval is how often expired cache entries are removed.
	sweepInterval = 1 * time.Minute
)

// ErrExchangerNil is returned when the broker is built without an exchanger.
var ErrExchangerNil = errors.New("exchanger cannot be nil")

// cacheEntry pairs an exchanged token with the moment it expires.
type cacheEntry struct {
	token     *oauth2.Token
	expiresAt time.Time
}

// Broker caches exchanged downstream tokens keyed by a fingerprint of the
// inbound assertion and the target resource. Raw tokens are never used as
// map keys.
type Broker struct {
	exchanger Exchanger
	cache     map[string]*cacheEntry
	cacheMu   sync.RWMutex
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	now       func() time.Time
	// singleFlight collapses concurrent misses for the same fingerprint
	// into a single upstream exchange.
	singleFlight singleflight.Group
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithClock overrides the broker's clock. Used by tests.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		b.now = now
	}
}

// NewBroker creates a broker over the exchanger and starts the background
// sweep of expired entries.
func NewBroker(exchanger Exchanger, opts ...BrokerOption) (*Broker, error) {
	if exchanger == nil {
		return nil, ErrExchangerNil
	}

	b := &Broker{
		exchanger: exchanger,
		cache:     make(map[string]*cacheEntry),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(1)
	go b.sweepExpiredEntries()

	return b, nil
}

// GetOrExchange returns the cached downstream token for the
// assertion/resource pair, performing the exchange on a miss. Concurrent
// misses for the same pair trigger exactly one upstream exchange; failures
// are not cached, so the next request retries.
func (b *Broker) GetOrExchange(ctx context.Context, assertion, resource string) (*oauth2.Token, error) {
	key := fingerprint(assertion, resource)

	if token := b.getCachedToken(key); token != nil {
		logger.Debugw("token cache hit", "fingerprint", key[:12])
		return token, nil
	}

	logger.Debugw("token cache miss, exchanging", "fingerprint", key[:12])

	result, err, _ := b.singleFlight.Do(key, func() (any, error) {
		// Double-check after acquiring the singleflight slot; another
		// goroutine may have populated the entry while we waited.
		if token := b.getCachedToken(key); token != nil {
			return token, nil
		}

		token, err := b.exchanger.Exchange(ctx, assertion, resource)
		if err != nil {
			return nil, err
		}

		b.cacheToken(key, token)
		return token, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*oauth2.Token), nil
}

// Stop stops the background sweep and waits for it to exit. Safe to call
// multiple times.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
}

// TokenSource adapts the broker to oauth2.TokenSource for one
// assertion/resource pair.
func (b *Broker) TokenSource(ctx context.Context, assertion, resource string) oauth2.TokenSource {
	return &brokerTokenSource{
		ctx:       ctx,
		broker:    b,
		assertion: assertion,
		resource:  resource,
	}
}

// brokerTokenSource implements oauth2.TokenSource over the broker.
type brokerTokenSource struct {
	ctx       context.Context
	broker    *Broker
	assertion string
	resource  string
}

// Token implements oauth2.TokenSource.
func (ts *brokerTokenSource) Token() (*oauth2.Token, error) {
	return ts.broker.GetOrExchange(ts.ctx, ts.assertion, ts.resource)
}

// fingerprint derives the cache key from the assertion and resource.
func fingerprint(assertion, resource string) string {
	sum := sha256.Sum256([]byte(assertion + "|" + resource))
	return hex.EncodeToString(sum[:])
}

// getCachedToken returns the cached token when present and still usable.
func (b *Broker) getCachedToken(key string) *oauth2.Token {
	b.cacheMu.RLock()
	defer b.cacheMu.RUnlock()

	entry, ok := b.cache[key]
	if !ok {
		return nil
	}

	if !b.now().Before(entry.expiresAt.Add(-expirySkew)) {
		return nil
	}

	return entry.token
}

// cacheToken stores the token under the key. Last writer wins.
func (b *Broker) cacheToken(key string, token *oauth2.Token) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	b.cache[key] = &cacheEntry{
		token:     token,
		expiresAt: token.Expiry,
	}
}

// sweepExpiredEntries periodically removes expired cache entries.
func (b *Broker) sweepExpiredEntries() {
	defer b.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.removeExpiredEntries()
		case <-b.stopCh:
			return
		}
	}
}

// removeExpiredEntries removes all expired entries from the cache.
func (b *Broker) removeExpiredEntries() {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	now := b.now()
	removed := 0

	for key, entry := range b.cache {
		if !now.Before(entry.expiresAt.Add(-expirySkew)) {
			delete(b.cache, key)
			removed++
		}
	}

	if removed > 0 {
		logger.Debugw("removed expired token cache entries",
			"removed", removed, "remaining", len(b.cache))
	}
}
