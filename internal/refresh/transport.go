package refresh

import (
	"context"
	"io"
	"net/http"

	"github.com/dropDatabas3/sessionkit/internal/metrics"
)

// TokenSource entrega access tokens para llamadas protegidas
// (lo implementa *Coordinator).
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

// Transport es un http.RoundTripper que adjunta el bearer token y, ante un 401,
// refresca una vez y reenvía la request con el token nuevo. Un segundo 401 se
// devuelve tal cual: no hay bucles de refresh.
type Transport struct {
	Base    http.RoundTripper
	Source  TokenSource
	Metrics *metrics.Session
}

// NewTransport arma el transport; base nil usa http.DefaultTransport.
func NewTransport(base http.RoundTripper, src TokenSource, m *metrics.Session) *Transport {
	return &Transport{Base: base, Source: src, Metrics: m}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implementa http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	tok, err := t.Source.AccessToken(ctx)
	if err != nil {
		closeBody(req)
		t.Metrics.ObserveProtected("error")
		return nil, err
	}

	resp, err := t.base().RoundTrip(withBearer(req, tok, nil))
	if err != nil {
		t.Metrics.ObserveProtected("error")
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Metrics.ObserveProtected("ok")
		return resp, nil
	}
	if !replayable(req) {
		t.Metrics.ObserveProtected("unauthorized")
		return resp, nil
	}

	fresh, err := t.Source.Refresh(ctx, tok)
	if err != nil {
		drain(resp)
		t.Metrics.ObserveProtected("error")
		return nil, err
	}

	var body io.ReadCloser
	if req.GetBody != nil {
		if body, err = req.GetBody(); err != nil {
			drain(resp)
			t.Metrics.ObserveProtected("error")
			return nil, err
		}
	}
	drain(resp)

	resp, err = t.base().RoundTrip(withBearer(req, fresh, body))
	if err != nil {
		t.Metrics.ObserveProtected("error")
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.Metrics.ObserveProtected("unauthorized")
	} else {
		t.Metrics.ObserveProtected("replayed")
	}
	return resp, nil
}

// withBearer clona req (un RoundTripper no debe modificar la original) y fija
// Authorization. body != nil reemplaza el cuerpo para un reenvío.
func withBearer(req *http.Request, token string, body io.ReadCloser) *http.Request {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		r.Body = body
	}
	return r
}

// replayable: sin cuerpo, o con GetBody para volver a leerlo.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
