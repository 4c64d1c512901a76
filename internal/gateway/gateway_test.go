package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dropDatabas3/sessionkit/internal/authtest"
	"github.com/dropDatabas3/sessionkit/internal/autherr"
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, baseURL string) *Gateway {
	t.Helper()
	gw, err := New(Config{BaseURL: baseURL}, nil, nil)
	require.NoError(t, err)
	return gw
}

// staticSource entrega siempre el mismo token y cuenta los refresh.
type staticSource struct {
	mu      sync.Mutex
	token   string
	next    string
	refresh int
}

func (s *staticSource) AccessToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *staticSource) Refresh(_ context.Context, stale string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh++
	if s.next == "" {
		return "", autherr.ErrSessionExpired
	}
	s.token = s.next
	return s.token, nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "ftp://x"}, nil, nil)
	assert.Error(t, err)
}

func TestLogin_Success(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))

	res, err := gw.Login(context.Background(), types.Credentials{Identifier: "ana@example.com", Secret: authtest.DefaultPassword})
	require.NoError(t, err)
	require.False(t, res.RequiresMfa())
	require.NotNil(t, res.Tokens)
	assert.True(t, res.Tokens.Complete())
	assert.False(t, res.Tokens.AccessTokenExpiry.IsZero(), "expiry derived from exp claim")
	assert.Equal(t, "u-ana", res.User.ID)
	assert.Equal(t, []string{"admin"}, res.User.Roles)
}

func TestLogin_RequiresMfa(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))

	res, err := gw.Login(context.Background(), types.Credentials{Identifier: "bruno@example.com", Secret: authtest.DefaultPassword})
	require.NoError(t, err)
	require.True(t, res.RequiresMfa())
	assert.NotEmpty(t, res.Challenge.ID)
	assert.Equal(t, []types.MfaMethod{types.MfaMethodApp, types.MfaMethodEmail}, res.Challenge.AllowedMethods)
	assert.Nil(t, res.Tokens)

	_, err = gw.VerifyMfa(context.Background(), res.Challenge.ID, "000000")
	assert.ErrorIs(t, err, autherr.ErrInvalidCode)

	ok, err := gw.VerifyMfa(context.Background(), res.Challenge.ID, authtest.DefaultMfaCode)
	require.NoError(t, err)
	assert.Equal(t, "u-bruno", ok.User.ID)

	_, err = gw.VerifyMfa(context.Background(), res.Challenge.ID, authtest.DefaultMfaCode)
	assert.ErrorIs(t, err, autherr.ErrInvalidChallenge, "a resolved challenge can't be reused")
}

func TestVerifyMfa_Expired(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))

	res, err := gw.Login(context.Background(), types.Credentials{Identifier: "bruno@example.com", Secret: authtest.DefaultPassword})
	require.NoError(t, err)
	srv.ExpireChallenge(res.Challenge.ID)

	_, err = gw.VerifyMfa(context.Background(), res.Challenge.ID, authtest.DefaultMfaCode)
	var ae *autherr.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, autherr.CodeChallengeExpired, ae.Code)
	assert.Equal(t, http.StatusGone, ae.HTTPStatus)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))

	_, err := gw.Login(context.Background(), types.Credentials{Identifier: "ana@example.com", Secret: "nope"})
	assert.ErrorIs(t, err, autherr.ErrInvalidCredentials)
	assert.True(t, autherr.UserVisible(err))
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))
	_, rt, err := srv.IssueTokens("u-ana")
	require.NoError(t, err)

	pair, err := gw.Refresh(context.Background(), rt)
	require.NoError(t, err)
	assert.NotEqual(t, rt, pair.RefreshToken)
	assert.True(t, pair.Complete())

	_, err = gw.Refresh(context.Background(), rt)
	assert.ErrorIs(t, err, autherr.ErrTokenInvalid)
}

func TestRefresh_Failures(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))
	_, rt, err := srv.IssueTokens("u-ana")
	require.NoError(t, err)

	srv.FailNextRefresh(http.StatusServiceUnavailable)
	_, err = gw.Refresh(context.Background(), rt)
	assert.ErrorIs(t, err, autherr.ErrServer)

	srv.AbortNextRefresh()
	_, err = gw.Refresh(context.Background(), rt)
	assert.ErrorIs(t, err, autherr.ErrNetwork)

	srv.FailNextRefresh(http.StatusForbidden)
	_, err = gw.Refresh(context.Background(), rt)
	assert.ErrorIs(t, err, autherr.ErrTokenInvalid)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		call   func(*Gateway) error
		want   *autherr.AuthError
	}{
		{"login 400", 400, loginCall, autherr.ErrInvalidCredentials},
		{"login 500", 500, loginCall, autherr.ErrServer},
		{"login 418", 418, loginCall, autherr.ErrServer},
		{"verify 404", 404, verifyCall, autherr.ErrInvalidChallenge},
		{"verify 400", 400, verifyCall, autherr.ErrInvalidCode},
		{"refresh 401", 401, refreshCall, autherr.ErrTokenInvalid},
		{"refresh 502", 502, refreshCall, autherr.ErrServer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"error":"boom","error_description":"detalle"}`)
			}))
			defer ts.Close()

			err := tc.call(newGateway(t, ts.URL))
			require.ErrorIs(t, err, tc.want)
			var ae *autherr.AuthError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tc.status, ae.HTTPStatus)
			assert.Contains(t, err.Error(), "boom: detalle")
		})
	}
}

func loginCall(g *Gateway) error {
	_, err := g.Login(context.Background(), types.Credentials{Identifier: "a", Secret: "b"})
	return err
}

func verifyCall(g *Gateway) error {
	_, err := g.VerifyMfa(context.Background(), "c1", "000000")
	return err
}

func refreshCall(g *Gateway) error {
	_, err := g.Refresh(context.Background(), "rt")
	return err
}

func TestRequestIDAndBody(t *testing.T) {
	var got LoginRequest
	var rid string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid = r.Header.Get(HeaderRequestID)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"requiresMfa":true,"challengeId":"c1","allowedMethods":["sms","fax"]}`)
	}))
	defer ts.Close()

	res, err := newGateway(t, ts.URL).Login(context.Background(), types.Credentials{
		Identifier: "alice", Secret: "correct-pw", RememberMe: true,
	})
	require.NoError(t, err)
	assert.Len(t, rid, 36)
	assert.Equal(t, LoginRequest{Identifier: "alice", Secret: "correct-pw", RememberMe: true}, got)
	assert.Equal(t, "c1", res.Challenge.ID)
	assert.Equal(t, []types.MfaMethod{types.MfaMethodSMS}, res.Challenge.AllowedMethods)
}

func TestIncompleteResponses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case PathLogin:
			_, _ = io.WriteString(w, `{"accessToken":"a"}`)
		case PathVerify:
			_, _ = io.WriteString(w, `{"requiresMfa":true}`)
		default:
			_, _ = io.WriteString(w, `not json`)
		}
	}))
	defer ts.Close()
	gw := newGateway(t, ts.URL)

	_, err := gw.Login(context.Background(), types.Credentials{Identifier: "a", Secret: "b"})
	assert.ErrorIs(t, err, autherr.ErrServer)
	_, err = gw.VerifyMfa(context.Background(), "c", "1")
	assert.ErrorIs(t, err, autherr.ErrServer)
	_, err = gw.Refresh(context.Background(), "rt")
	assert.ErrorIs(t, err, autherr.ErrServer)
}

func TestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := newGateway(t, url).Login(context.Background(), types.Credentials{Identifier: "a", Secret: "b"})
	assert.ErrorIs(t, err, autherr.ErrNetwork)
	assert.True(t, autherr.Retryable(err))
}

func TestCanceledContext(t *testing.T) {
	srv := authtest.New()
	gw := newGateway(t, srv.Start(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Login(ctx, types.Credentials{Identifier: "a", Secret: "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, autherr.ErrNetwork))
}

func TestLogout_InvalidatesRefreshToken(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))
	_, rt, err := srv.IssueTokens("u-ana")
	require.NoError(t, err)

	require.NoError(t, gw.Logout(context.Background(), rt))
	assert.False(t, srv.RefreshTokenValid(rt))
}

func TestFetchCurrentUser(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))

	_, err := gw.FetchCurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrNotProtected)

	access, _, err := srv.IssueTokens("u-ana")
	require.NoError(t, err)
	gw.Protect(&staticSource{token: access})

	u, err := gw.FetchCurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.DisplayName)
	assert.Equal(t, access, srv.LastBearer())
}

func TestFetchCurrentUser_RevokedAfterReplay(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))
	access, _, err := srv.IssueTokens("u-ana")
	require.NoError(t, err)
	srv.RevokeAccess(access)

	other, _, err := srv.IssueTokens("u-ana")
	require.NoError(t, err)
	srv.RevokeAccess(other)

	src := &staticSource{token: access, next: other}
	gw.Protect(src)

	_, err = gw.FetchCurrentUser(context.Background())
	assert.ErrorIs(t, err, autherr.ErrTokenExpired)
	assert.Equal(t, 1, src.refresh, "second 401 is not refreshed again")
	assert.Equal(t, 2, srv.Calls(PathMe))
}

func TestDo_ReplaysBodyAfter401(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))
	stale, _, err := srv.IssueTokens("u-ana")
	require.NoError(t, err)
	srv.RevokeAccess(stale)
	fresh, _, err := srv.IssueTokens("u-ana")
	require.NoError(t, err)

	src := &staticSource{token: stale, next: fresh}
	gw.Protect(src)

	req, err := http.NewRequest(http.MethodPost, authtest.PathEcho, strings.NewReader(`{"ping":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := gw.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"ping":1}`, string(body))
	assert.Equal(t, 1, src.refresh)
	assert.Equal(t, fresh, srv.LastBearer())
}

func TestDo_RejectsForeignHost(t *testing.T) {
	srv := authtest.New()
	gw := newGateway(t, srv.Start(t))
	gw.Protect(&staticSource{token: "t"})

	req, err := http.NewRequest(http.MethodGet, "https://evil.example/api", nil)
	require.NoError(t, err)
	_, err = gw.Do(context.Background(), req)
	assert.ErrorIs(t, err, ErrForeignHost)
}

func TestGetJSON(t *testing.T) {
	srv := authtest.New()
	srv.SeedDemo()
	gw := newGateway(t, srv.Start(t))
	access, _, err := srv.IssueTokens("u-ana")
	require.NoError(t, err)
	gw.Protect(&staticSource{token: access, next: access})

	var out struct {
		Alerts []struct {
			ID string `json:"id"`
		} `json:"alerts"`
	}
	require.NoError(t, gw.GetJSON(context.Background(), authtest.PathAlerts, &out))
	assert.Len(t, out.Alerts, 2)

	err = gw.GetJSON(context.Background(), authtest.PathAlways401, &out)
	assert.ErrorIs(t, err, autherr.ErrTokenExpired)
}
