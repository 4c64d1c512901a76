package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/sessionkit/internal/autherr"
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession replica el contrato de época de session.Machine.
type fakeSession struct {
	mu         sync.Mutex
	pair       types.TokenPair
	epoch      uint64
	active     bool
	refreshing bool
	expired    int
	aborted    int
	completed  int
}

func newFakeSession(pair types.TokenPair) *fakeSession {
	return &fakeSession{pair: pair, epoch: 1, active: true}
}

func (s *fakeSession) Tokens() (types.TokenPair, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair, s.epoch, s.active
}

func (s *fakeSession) BeginRefresh(epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || !s.active {
		return autherr.ErrSessionExpired.WithCause(autherr.ErrSuperseded)
	}
	s.refreshing = true
	return nil
}

func (s *fakeSession) CompleteRefresh(_ context.Context, epoch uint64, pair types.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || !s.refreshing {
		return autherr.ErrSessionExpired.WithCause(autherr.ErrSuperseded)
	}
	s.pair = pair
	s.refreshing = false
	s.completed++
	return nil
}

func (s *fakeSession) AbortRefresh(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch == s.epoch {
		s.refreshing = false
		s.aborted++
	}
}

func (s *fakeSession) ExpireSession(_ context.Context, epoch uint64, _ error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || !s.active {
		return false
	}
	s.epoch++
	s.active = false
	s.refreshing = false
	s.pair = types.TokenPair{}
	s.expired++
	return true
}

// logout simula un logout concurrente.
func (s *fakeSession) logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.active = false
	s.pair = types.TokenPair{}
}

// fakeRefresher devuelve errs en orden y luego pares nuevos.
type fakeRefresher struct {
	calls   atomic.Int32
	mu      sync.Mutex
	errs    []error
	gate    chan struct{}
	started chan struct{}
	ttl     time.Duration
}

func (r *fakeRefresher) Refresh(ctx context.Context, rt string) (types.TokenPair, error) {
	n := r.calls.Add(1)
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return types.TokenPair{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return types.TokenPair{}, err
	}
	ttl := r.ttl
	if ttl == 0 {
		ttl = time.Hour
	}
	return types.TokenPair{
		AccessToken:       fmt.Sprintf("access-%d", n),
		RefreshToken:      fmt.Sprintf("refresh-%d", n),
		AccessTokenExpiry: time.Now().Add(ttl),
	}, nil
}

func expiredPair() types.TokenPair {
	return types.TokenPair{AccessToken: "old-access", RefreshToken: "old-refresh", AccessTokenExpiry: time.Now().Add(10 * time.Second)}
}

func newCoordinator(s Session, r Refresher) *Coordinator {
	return New(Deps{
		Session:   s,
		Refresher: r,
		Config: Config{
			SafetyMargin:   30 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	})
}

func TestAccessToken_FreshTokenNoRefresh(t *testing.T) {
	pair := types.TokenPair{AccessToken: "a", RefreshToken: "r", AccessTokenExpiry: time.Now().Add(time.Hour)}
	r := &fakeRefresher{}
	c := newCoordinator(newFakeSession(pair), r)

	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", tok)
	assert.Zero(t, r.calls.Load())
}

func TestAccessToken_OpaqueTokenNeverProactive(t *testing.T) {
	r := &fakeRefresher{}
	c := newCoordinator(newFakeSession(types.TokenPair{AccessToken: "opaque", RefreshToken: "r"}), r)

	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok)
	assert.Zero(t, r.calls.Load())
}

func TestAccessToken_NoSession(t *testing.T) {
	s := newFakeSession(types.TokenPair{})
	s.active = false
	r := &fakeRefresher{}

	_, err := newCoordinator(s, r).AccessToken(context.Background())
	assert.ErrorIs(t, err, autherr.ErrSessionExpired)
	assert.Zero(t, r.calls.Load())
}

func TestSingleFlight_ConcurrentCallersShareOneRefresh(t *testing.T) {
	sess := newFakeSession(expiredPair())
	r := &fakeRefresher{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newCoordinator(sess, r)

	const n = 25
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.AccessToken(context.Background())
		}(i)
	}

	<-r.started
	time.Sleep(20 * time.Millisecond)
	close(r.gate)
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load(), "exactly one network refresh")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-1", tokens[i])
	}
	pair, _, ok := sess.Tokens()
	require.True(t, ok)
	assert.Equal(t, "refresh-1", pair.RefreshToken)
	assert.Equal(t, 1, sess.completed)
}

func TestRefresh_ReactiveReusesNewerToken(t *testing.T) {
	pair := types.TokenPair{AccessToken: "new", RefreshToken: "r", AccessTokenExpiry: time.Now().Add(time.Hour)}
	r := &fakeRefresher{}
	c := newCoordinator(newFakeSession(pair), r)

	tok, err := c.Refresh(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
	assert.Zero(t, r.calls.Load())
}

func TestRefresh_ReactiveRefreshesSameToken(t *testing.T) {
	pair := types.TokenPair{AccessToken: "rejected", RefreshToken: "r", AccessTokenExpiry: time.Now().Add(time.Hour)}
	r := &fakeRefresher{}
	c := newCoordinator(newFakeSession(pair), r)

	tok, err := c.Refresh(context.Background(), "rejected")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestRefresh_RetriesNetworkErrors(t *testing.T) {
	sess := newFakeSession(expiredPair())
	r := &fakeRefresher{errs: []error{autherr.ErrNetwork, autherr.ErrNetwork}}
	c := newCoordinator(sess, r)

	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-3", tok)
	assert.Equal(t, int32(3), r.calls.Load())
}

func TestRefresh_NetworkBudgetExhaustedExpiresSession(t *testing.T) {
	sess := newFakeSession(expiredPair())
	r := &fakeRefresher{errs: []error{autherr.ErrNetwork, autherr.ErrNetwork, autherr.ErrNetwork, autherr.ErrNetwork}}
	c := newCoordinator(sess, r)

	_, err := c.AccessToken(context.Background())
	assert.ErrorIs(t, err, autherr.ErrSessionExpired)
	assert.Equal(t, int32(3), r.calls.Load())
	assert.Equal(t, 1, sess.expired)
}

func TestRefresh_TokenInvalidIsPermanent(t *testing.T) {
	sess := newFakeSession(expiredPair())
	r := &fakeRefresher{errs: []error{autherr.ErrTokenInvalid.WithStatus(401)}}
	c := newCoordinator(sess, r)

	_, err := c.AccessToken(context.Background())
	assert.ErrorIs(t, err, autherr.ErrSessionExpired)
	assert.ErrorIs(t, err, autherr.ErrTokenInvalid, "cause is kept for logs")
	assert.Equal(t, int32(1), r.calls.Load())
	_, _, ok := sess.Tokens()
	assert.False(t, ok)
}

func TestRefresh_ServerErrorKeepsSession(t *testing.T) {
	sess := newFakeSession(expiredPair())
	r := &fakeRefresher{errs: []error{autherr.ErrServer.WithStatus(503)}}
	c := newCoordinator(sess, r)

	_, err := c.AccessToken(context.Background())
	assert.ErrorIs(t, err, autherr.ErrServer)
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, 1, sess.aborted)
	assert.Zero(t, sess.expired)

	pair, _, ok := sess.Tokens()
	require.True(t, ok)
	assert.Equal(t, "old-refresh", pair.RefreshToken)
}

func TestRefresh_WaiterCancelDoesNotCancelFlight(t *testing.T) {
	sess := newFakeSession(expiredPair())
	r := &fakeRefresher{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newCoordinator(sess, r)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.AccessToken(ctx)
		errc <- err
	}()
	<-r.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	done := make(chan string, 1)
	go func() {
		tok, _ := c.AccessToken(context.Background())
		done <- tok
	}()
	close(r.gate)
	assert.Equal(t, "access-1", <-done)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestRefresh_LogoutDuringRefreshDiscardsResult(t *testing.T) {
	sess := newFakeSession(expiredPair())
	r := &fakeRefresher{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newCoordinator(sess, r)

	errc := make(chan error, 1)
	go func() {
		_, err := c.AccessToken(context.Background())
		errc <- err
	}()
	<-r.started
	sess.logout()
	close(r.gate)

	err := <-errc
	assert.ErrorIs(t, err, autherr.ErrSessionExpired)
	assert.True(t, errors.Is(err, autherr.ErrSuperseded))
	_, _, ok := sess.Tokens()
	assert.False(t, ok, "refreshed pair must not resurrect the session")
}

func TestNew_Defaults(t *testing.T) {
	c := New(Deps{Session: newFakeSession(types.TokenPair{}), Refresher: &fakeRefresher{}})
	assert.Equal(t, DefaultConfig(), c.cfg)
}
