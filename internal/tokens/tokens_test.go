package tokens_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-sync/internal/model"
	"github.com/rezonia/fiscal-sync/internal/tokens"
)

type fakeRefresher struct {
	calls atomic.Int32
	token string
	err   error
	delay time.Duration
}

func (f *fakeRefresher) RefreshAccessToken(ctx context.Context, in model.LedgerIntegration) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.token, f.err
}

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func TestEnsureFresh_RecentTokenUnchanged(t *testing.T) {
	r := &fakeRefresher{token: "new"}
	c := tokens.NewController(r, tokens.NewMemoryStore(), tokens.WithClock(clock))

	in := model.LedgerIntegration{AccessToken: "old", RefreshToken: "r", LastRefreshTime: now.Add(-30 * time.Minute)}
	tok := c.EnsureFresh(context.Background(), "AAA010101AAA", in)

	assert.Equal(t, "old", tok.AccessToken)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestEnsureFresh_StaleTokenRefreshed(t *testing.T) {
	r := &fakeRefresher{token: "new"}
	store := tokens.NewMemoryStore()
	c := tokens.NewController(r, store, tokens.WithClock(clock))
	ctx := context.Background()

	in := model.LedgerIntegration{AccessToken: "old", RefreshToken: "r", LastRefreshTime: now.Add(-2 * time.Hour)}
	tok := c.EnsureFresh(ctx, "AAA010101AAA", in)

	assert.Equal(t, "new", tok.AccessToken)
	assert.Equal(t, now, tok.RefreshedAt)

	stored, ok, err := store.Get(ctx, "AAA010101AAA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", stored.AccessToken)

	// Stored token is newer than the integration's and is reused
	tok = c.EnsureFresh(ctx, "AAA010101AAA", in)
	assert.Equal(t, "new", tok.AccessToken)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestEnsureFresh_FailureReturnsPrevious(t *testing.T) {
	r := &fakeRefresher{err: errors.New("invalid_code")}
	log, hook := test.NewNullLogger()
	c := tokens.NewController(r, tokens.NewMemoryStore(), tokens.WithClock(clock), tokens.WithLogger(log))

	in := model.LedgerIntegration{AccessToken: "old", RefreshToken: "r", LastRefreshTime: now.Add(-3 * time.Hour)}
	tok := c.EnsureFresh(context.Background(), "AAA010101AAA", in)

	assert.Equal(t, "old", tok.AccessToken)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, model.ErrAuthRefreshFailed.Error(), hook.LastEntry().Data["kind"])
}

func TestEnsureFresh_CustomWindow(t *testing.T) {
	r := &fakeRefresher{token: "new"}
	c := tokens.NewController(r, tokens.NewMemoryStore(), tokens.WithClock(clock), tokens.WithRefreshAfter(10*time.Minute))

	in := model.LedgerIntegration{AccessToken: "old", RefreshToken: "r", LastRefreshTime: now.Add(-30 * time.Minute)}
	assert.Equal(t, "new", c.EnsureFresh(context.Background(), "X", in).AccessToken)
}

func TestEnsureFresh_ConcurrentCallsShareRefresh(t *testing.T) {
	r := &fakeRefresher{token: "new", delay: 50 * time.Millisecond}
	c := tokens.NewController(r, tokens.NewMemoryStore(), tokens.WithClock(clock))
	in := model.LedgerIntegration{AccessToken: "old", RefreshToken: "r", LastRefreshTime: now.Add(-2 * time.Hour)}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.EnsureFresh(context.Background(), "AAA010101AAA", in).AccessToken
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, "new", got)
	}
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestInvalidate(t *testing.T) {
	store := tokens.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "X", model.LedgerToken{AccessToken: "a", RefreshedAt: now}))

	c := tokens.NewController(&fakeRefresher{}, store)
	require.NoError(t, c.Invalidate(ctx, "X"))

	_, ok, err := store.Get(ctx, "X")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := tokens.ConnectRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	defer client.Close()

	store := tokens.NewRedisStore(client)
	rfc := "TEST" + time.Now().Format("150405.000")
	defer store.Delete(ctx, rfc)

	_, ok, err := store.Get(ctx, rfc)
	require.NoError(t, err)
	assert.False(t, ok)

	want := model.LedgerToken{AccessToken: "a", RefreshedAt: now}
	require.NoError(t, store.Put(ctx, rfc, want))

	got, ok, err := store.Get(ctx, rfc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.True(t, want.RefreshedAt.Equal(got.RefreshedAt))
}
