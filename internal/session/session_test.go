package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/intentfs/internal/config"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/remote/remotetest"
)

type fixedCreds struct{ err error }

func (f fixedCreds) Credentials(context.Context, string) (config.Credential, error) {
	if f.err != nil {
		return config.Credential{}, f.err
	}
	return config.Credential{Username: "admin", Password: "secret"}, nil
}

func newTestManager(t *testing.T, srv *remotetest.Server, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithHTTPClient(srv.HTTPClient())}, opts...)
	m := New(srv.Address(), fixedCreds{}, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func acquireConcurrently(m *Manager, n int) ([]string, []error) {
	tokens := make([]string, n)
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tokens[i], errs[i] = m.Acquire(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()
	return tokens, errs
}

func TestAcquireSingleFlight(t *testing.T) {
	srv := remotetest.NewServer(t)
	srv.TokenDelay.Store(int64(100 * time.Millisecond))
	m := newTestManager(t, srv)

	tokens, errs := acquireConcurrently(m, 20)

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, remotetest.Token, tokens[i])
	}
	assert.EqualValues(t, 1, srv.TokenRequests.Load(), "exactly one token request")
	assert.Equal(t, Valid, m.State())

	// reuse
	tok, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, remotetest.Token, tok)
	assert.EqualValues(t, 1, srv.TokenRequests.Load())
}

func TestAcquireSharedFailure(t *testing.T) {
	srv := remotetest.NewServer(t)
	srv.TokenDelay.Store(int64(100 * time.Millisecond))
	srv.TokenStatus.Store(401)
	m := newTestManager(t, srv)

	_, errs := acquireConcurrently(m, 10)

	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, errors.Is(err, faults.Authentication))
		assert.Equal(t, 401, faults.Status(err))
	}
	assert.EqualValues(t, 1, srv.TokenRequests.Load())
	assert.Equal(t, Empty, m.State())

	// credentials are kept; the next acquire retries
	srv.TokenStatus.Store(0)
	srv.TokenDelay.Store(0)
	tok, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, remotetest.Token, tok)
	assert.EqualValues(t, 2, srv.TokenRequests.Load())
}

func TestAcquireAuthTimeout(t *testing.T) {
	srv := remotetest.NewServer(t)
	srv.TokenDelay.Store(int64(300 * time.Millisecond))
	m := newTestManager(t, srv, WithTimings(50*time.Millisecond, time.Minute))

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.Timeout))
	assert.Equal(t, Empty, m.State())
}

func TestAcquireMissingCredentials(t *testing.T) {
	srv := remotetest.NewServer(t)
	m := New(srv.Address(), fixedCreds{err: errors.New("no password")}, WithHTTPClient(srv.HTTPClient()))

	_, err := m.Acquire(context.Background())
	assert.True(t, errors.Is(err, faults.Authentication))
	assert.Zero(t, srv.TokenRequests.Load())
}

func TestAcquireCallerCancellation(t *testing.T) {
	srv := remotetest.NewServer(t)
	srv.TokenDelay.Store(int64(200 * time.Millisecond))
	m := newTestManager(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the shared request still completes for later callers
	tok, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, remotetest.Token, tok)
	assert.EqualValues(t, 1, srv.TokenRequests.Load())
}

func TestRevokeIdempotent(t *testing.T) {
	srv := remotetest.NewServer(t)
	m := newTestManager(t, srv)

	m.Revoke() // nothing held
	assert.Zero(t, srv.Revocations.Load())

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	m.Revoke()
	assert.Equal(t, Empty, m.State(), "local state cleared immediately")
	m.Revoke()

	assert.Eventually(t, func() bool { return srv.Revocations.Load() == 1 }, time.Second, 10*time.Millisecond)

	_, err = m.Acquire(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.TokenRequests.Load())
}

func TestTokenExpires(t *testing.T) {
	srv := remotetest.NewServer(t)
	m := newTestManager(t, srv, WithTimings(time.Second, 50*time.Millisecond))

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return m.State() == Empty }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return srv.Revocations.Load() == 1 }, time.Second, 10*time.Millisecond)

	_, err = m.Acquire(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.TokenRequests.Load())
}

func TestExplicitRevokeCancelsExpiry(t *testing.T) {
	srv := remotetest.NewServer(t)
	m := newTestManager(t, srv, WithTimings(time.Second, 80*time.Millisecond))

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	m.Revoke()

	_, err = m.Acquire(context.Background())
	require.NoError(t, err)

	// the first token's timer must not drop the second token early
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, Valid, m.State())
}

func TestCloseRevokesTokenInFlight(t *testing.T) {
	srv := remotetest.NewServer(t)
	srv.TokenDelay.Store(int64(150 * time.Millisecond))
	m := newTestManager(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, Pending, m.State())

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	require.NoError(t, m.Close(closeCtx))

	assert.EqualValues(t, 1, srv.TokenRequests.Load())
	assert.EqualValues(t, 1, srv.Revocations.Load(), "the late token is revoked before Close returns")
	assert.Equal(t, Empty, m.State())
}
