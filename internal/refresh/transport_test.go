package refresh

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	token     string
	fresh     string
	err       error
	refreshes atomic.Int32
}

func (s *countingSource) AccessToken(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func (s *countingSource) Refresh(context.Context, string) (string, error) {
	s.refreshes.Add(1)
	return s.fresh, nil
}

// acceptOnly responde 401 salvo para el bearer indicado.
func acceptOnly(token string, hits *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
}

func TestTransport_AttachesBearer(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(acceptOnly("good", &hits))
	defer ts.Close()
	src := &countingSource{token: "good"}
	client := &http.Client{Transport: NewTransport(nil, src, nil)}

	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, src.refreshes.Load())
}

func TestTransport_ReplaysOnceWithBody(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(acceptOnly("fresh", &hits))
	defer ts.Close()
	src := &countingSource{token: "stale", fresh: "fresh"}
	client := &http.Client{Transport: NewTransport(nil, src, nil)}

	resp, err := client.Post(ts.URL, "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, int32(1), src.refreshes.Load())
	assert.Equal(t, int32(2), hits.Load())
}

func TestTransport_SecondUnauthorizedIsReturned(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(acceptOnly("never", &hits))
	defer ts.Close()
	src := &countingSource{token: "stale", fresh: "still-bad"}
	client := &http.Client{Transport: NewTransport(nil, src, nil)}

	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), src.refreshes.Load())
	assert.Equal(t, int32(2), hits.Load())
}

func TestTransport_NonReplayableBodyNotRetried(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(acceptOnly("fresh", &hits))
	defer ts.Close()
	src := &countingSource{token: "stale", fresh: "fresh"}
	client := &http.Client{Transport: NewTransport(nil, src, nil)}

	req, err := http.NewRequest(http.MethodPost, ts.URL, io.NopCloser(strings.NewReader("once")))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, src.refreshes.Load())
}

func TestTransport_TokenErrorStopsRequest(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(acceptOnly("x", &hits))
	defer ts.Close()
	boom := errors.New("no session")
	client := &http.Client{Transport: NewTransport(nil, &countingSource{err: boom}, nil)}

	_, err := client.Get(ts.URL)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, hits.Load())
}
