package obo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/obo/mocks"
)

// testClock is an adjustable clock for cache expiry tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func tokenExpiringIn(clock *testClock, d time.Duration) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: "downstream-token",
		TokenType:   "Bearer",
		Expiry:      clock.Now().Add(d),
	}
}

func TestNewBroker_NilExchanger(t *testing.T) {
	t.Parallel()

	_, err := NewBroker(nil)
	require.ErrorIs(t, err, ErrExchangerNil)
}

func TestBrokerGetOrExchange_CachesByFingerprint(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	exchanger := mocks.NewMockExchanger(ctrl)
	clock := newTestClock()

	exchanger.EXPECT().
		Exchange(gomock.Any(), "assertion-a", testResource).
		Return(tokenExpiringIn(clock, time.Hour), nil).
		Times(1)
	exchanger.EXPECT().
		Exchange(gomock.Any(), "assertion-b", testResource).
		Return(tokenExpiringIn(clock, time.Hour), nil).
		Times(1)

	broker, err := NewBroker(exchanger, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(broker.Stop)

	ctx := context.Background()

	// Two sequential calls for the same pair hit the cache the second time.
	first, err := broker.GetOrExchange(ctx, "assertion-a", testResource)
	require.NoError(t, err)
	second, err := broker.GetOrExchange(ctx, "assertion-a", testResource)
	require.NoError(t, err)
	assert.Same(t, first, second)

	// A different assertion is a different cache entry.
	_, err = broker.GetOrExchange(ctx, "assertion-b", testResource)
	require.NoError(t, err)
}

func TestBrokerGetOrExchange_DistinctResources(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	exchanger := mocks.NewMockExchanger(ctrl)
	clock := newTestClock()

	exchanger.EXPECT().
		Exchange(gomock.Any(), "assertion-a", "https://one.example.com").
		Return(tokenExpiringIn(clock, time.Hour), nil).
		Times(1)
	exchanger.EXPECT().
		Exchange(gomock.Any(), "assertion-a", "https://two.example.com").
		Return(tokenExpiringIn(clock, time.Hour), nil).
		Times(1)

	broker, err := NewBroker(exchanger, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(broker.Stop)

	ctx := context.Background()
	_, err = broker.GetOrExchange(ctx, "assertion-a", "https://one.example.com")
	require.NoError(t, err)
	_, err = broker.GetOrExchange(ctx, "assertion-a", "https://two.example.com")
	require.NoError(t, err)
}

// TestBrokerGetOrExchange_SkewExpiry verifies a token inside the expiry skew
// window is treated as expired.
func TestBrokerGetOrExchange_SkewExpiry(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	exchanger := mocks.NewMockExchanger(ctrl)
	clock := newTestClock()

	// Two exchanges: the initial one, and the refresh once the first token
	// enters the skew window.
	exchanger.EXPECT().
		Exchange(gomock.Any(), testAssertion, testResource).
		DoAndReturn(func(context.Context, string, string) (*oauth2.Token, error) {
			return tokenExpiringIn(clock, 90*time.Second), nil
		}).
		Times(2)

	broker, err := NewBroker(exchanger, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(broker.Stop)

	ctx := context.Background()

	_, err = broker.GetOrExchange(ctx, testAssertion, testResource)
	require.NoError(t, err)

	// 20s in, the token still has 70s left, beyond the 60s skew.
	clock.Advance(20 * time.Second)
	_, err = broker.GetOrExchange(ctx, testAssertion, testResource)
	require.NoError(t, err)

	// 45s in, only 45s remain, inside the skew window, so a fresh exchange
	// happens.
	clock.Advance(25 * time.Second)
	_, err = broker.GetOrExchange(ctx, testAssertion, testResource)
	require.NoError(t, err)
}

// TestBrokerGetOrExchange_ConcurrentMisses verifies concurrent misses for the
// same pair collapse into one upstream exchange.
func TestBrokerGetOrExchange_ConcurrentMisses(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	exchanger := mocks.NewMockExchanger(ctrl)
	clock := newTestClock()

	exchanger.EXPECT().
		Exchange(gomock.Any(), testAssertion, testResource).
		DoAndReturn(func(context.Context, string, string) (*oauth2.Token, error) {
			// Slow exchange so all goroutines pile up on the same flight.
			time.Sleep(50 * time.Millisecond)
			return tokenExpiringIn(clock, time.Hour), nil
		}).
		Times(1)

	broker, err := NewBroker(exchanger, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(broker.Stop)

	var group errgroup.Group
	for range 10 {
		group.Go(func() error {
			token, err := broker.GetOrExchange(context.Background(), testAssertion, testResource)
			if err != nil {
				return err
			}
			if token.AccessToken != "downstream-token" {
				return errors.New("unexpected token")
			}
			return nil
		})
	}

	require.NoError(t, group.Wait())
}

// TestBrokerGetOrExchange_FailureNotCached verifies a failed exchange is
// retried on the next request.
func TestBrokerGetOrExchange_FailureNotCached(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	exchanger := mocks.NewMockExchanger(ctrl)
	clock := newTestClock()

	exchangeErr := &ExchangeError{Status: 502, Body: "bad gateway"}
	gomock.InOrder(
		exchanger.EXPECT().
			Exchange(gomock.Any(), testAssertion, testResource).
			Return(nil, exchangeErr),
		exchanger.EXPECT().
			Exchange(gomock.Any(), testAssertion, testResource).
			Return(tokenExpiringIn(clock, time.Hour), nil),
	)

	broker, err := NewBroker(exchanger, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(broker.Stop)

	ctx := context.Background()

	_, err = broker.GetOrExchange(ctx, testAssertion, testResource)
	require.Error(t, err)
	var gotErr *ExchangeError
	require.ErrorAs(t, err, &gotErr)
	assert.Equal(t, 502, gotErr.Status)

	_, err = broker.GetOrExchange(ctx, testAssertion, testResource)
	require.NoError(t, err)
}

func TestBrokerRemoveExpiredEntries(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	exchanger := mocks.NewMockExchanger(ctrl)
	clock := newTestClock()

	exchanger.EXPECT().
		Exchange(gomock.Any(), gomock.Any(), testResource).
		DoAndReturn(func(context.Context, string, string) (*oauth2.Token, error) {
			return tokenExpiringIn(clock, 10*time.Minute), nil
		}).
		Times(2)

	broker, err := NewBroker(exchanger, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(broker.Stop)

	ctx := context.Background()
	_, err = broker.GetOrExchange(ctx, "assertion-a", testResource)
	require.NoError(t, err)
	_, err = broker.GetOrExchange(ctx, "assertion-b", testResource)
	require.NoError(t, err)

	broker.cacheMu.RLock()
	assert.Len(t, broker.cache, 2)
	broker.cacheMu.RUnlock()

	clock.Advance(10 * time.Minute)
	broker.removeExpiredEntries()

	broker.cacheMu.RLock()
	assert.Empty(t, broker.cache)
	broker.cacheMu.RUnlock()
}

func TestBrokerStop_Idempotent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	broker, err := NewBroker(mocks.NewMockExchanger(ctrl))
	require.NoError(t, err)

	broker.Stop()
	broker.Stop()
}

func TestBrokerTokenSource(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	exchanger := mocks.NewMockExchanger(ctrl)
	clock := newTestClock()

	exchanger.EXPECT().
		Exchange(gomock.Any(), testAssertion, testResource).
		Return(tokenExpiringIn(clock, time.Hour), nil).
		Times(1)

	broker, err := NewBroker(exchanger, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(broker.Stop)

	source := broker.TokenSource(context.Background(), testAssertion, testResource)

	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "downstream-token", token.AccessToken)

	// A second Token call serves from the cache.
	_, err = source.Token()
	require.NoError(t, err)
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := fingerprint("assertion-a", testResource)
	assert.Len(t, a, 64)
	assert.Equal(t, a, fingerprint("assertion-a", testResource))
	assert.NotEqual(t, a, fingerprint("assertion-b", testResource))
	assert.NotEqual(t, a, fingerprint("assertion-a", "https://other.example.com"))
}
