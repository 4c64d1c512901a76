// Package gateway es el único punto de contacto con el servidor de
// autenticación. Es stateless: recibe tokens por parámetro (o los obtiene del
// TokenSource del cliente protegido) y nunca escribe el token store.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/sessionkit/internal/autherr"
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	"github.com/dropDatabas3/sessionkit/internal/jwt"
	"github.com/dropDatabas3/sessionkit/internal/metrics"
	"github.com/dropDatabas3/sessionkit/internal/observability/logger"
	"github.com/dropDatabas3/sessionkit/internal/refresh"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Paths del contrato de autenticación.
const (
	PathLogin   = "/auth/login"
	PathVerify  = "/auth/verify-2fa"
	PathRefresh = "/auth/refresh-token"
	PathLogout  = "/auth/logout"
	PathMe      = "/auth/me"
)

// HeaderRequestID es el header de correlación enviado en cada request.
const HeaderRequestID = "X-Request-ID"

// ErrNotProtected se devuelve si se usa el cliente protegido antes de Protect.
var ErrNotProtected = errors.New("gateway: protected client not configured")

// ErrForeignHost se devuelve al intentar mandar el bearer a otro host.
var ErrForeignHost = errors.New("gateway: refusing to send credentials to a foreign host")

// Config del gateway.
type Config struct {
	BaseURL string
	// Timeout por request (0 = 15s).
	Timeout time.Duration
	// Transport base (nil = http.DefaultTransport). Útil en tests.
	Transport http.RoundTripper
	UserAgent string
}

// Gateway traduce operaciones de sesión a llamadas HTTP.
type Gateway struct {
	base    *url.URL
	cfg     Config
	plain   *http.Client
	log     *zap.Logger
	metrics *metrics.Session

	mu        sync.RWMutex
	protected *http.Client
}

// New valida la config y arma el cliente plano.
func New(cfg Config, log *zap.Logger, m *metrics.Session) (*Gateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gateway: base url required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway: unsupported scheme %q", u.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "sessionkit"
	}
	if log == nil {
		log = logger.L()
	}
	return &Gateway{
		base:    u,
		cfg:     cfg,
		plain:   &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		log:     log.With(logger.Component("gateway")),
		metrics: m,
	}, nil
}

// Protect arma el cliente protegido sobre src (normalmente el coordinador de
// refresh). Se llama una vez durante el wiring.
func (g *Gateway) Protect(src refresh.TokenSource) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.protected = &http.Client{
		Timeout:   g.cfg.Timeout,
		Transport: refresh.NewTransport(g.cfg.Transport, src, g.metrics),
	}
}

// ProtectedClient devuelve el *http.Client que adjunta el bearer y resuelve
// 401 con un refresh. nil si todavía no se llamó Protect.
func (g *Gateway) ProtectedClient() *http.Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.protected
}

// BaseURL devuelve la URL base configurada.
func (g *Gateway) BaseURL() string { return g.base.String() }

// =================================================================================
// OPERACIONES DE AUTENTICACIÓN
// =================================================================================

// Login envía credenciales primarias.
func (g *Gateway) Login(ctx context.Context, creds types.Credentials) (*types.LoginResult, error) {
	var out AuthResponse
	in := LoginRequest{Identifier: creds.Identifier, Secret: creds.Secret, RememberMe: creds.RememberMe}
	if err := g.call(ctx, g.plain, http.MethodPost, PathLogin, in, &out, loginStatus); err != nil {
		return nil, err
	}
	if out.RequiresMfa {
		if out.ChallengeID == "" {
			return nil, autherr.ErrServer.WithCause(errors.New("mfa required without challengeId"))
		}
		return &types.LoginResult{Challenge: &types.MfaChallenge{
			ID:             out.ChallengeID,
			AllowedMethods: types.ParseMfaMethods(out.AllowedMethods),
		}}, nil
	}
	return authResult(out)
}

// VerifyMfa envía el código del segundo factor.
func (g *Gateway) VerifyMfa(ctx context.Context, challengeID, code string) (*types.LoginResult, error) {
	var out AuthResponse
	in := VerifyMfaRequest{ChallengeID: challengeID, Code: code}
	if err := g.call(ctx, g.plain, http.MethodPost, PathVerify, in, &out, verifyStatus); err != nil {
		return nil, err
	}
	return authResult(out)
}

// Refresh canjea el refresh token por un par nuevo. El servidor puede rotar
// el refresh token; si no devuelve uno, se conserva el anterior.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (types.TokenPair, error) {
	var out RefreshResponse
	if err := g.call(ctx, g.plain, http.MethodPost, PathRefresh, RefreshRequest{RefreshToken: refreshToken}, &out, refreshStatus); err != nil {
		return types.TokenPair{}, err
	}
	if out.AccessToken == "" {
		return types.TokenPair{}, autherr.ErrServer.WithCause(errors.New("refresh response without accessToken"))
	}
	rt := out.RefreshToken
	if rt == "" {
		rt = refreshToken
	}
	return jwt.NewTokenPair(out.AccessToken, rt), nil
}

// Logout invalida el refresh token en el servidor. El caller decide qué hacer
// con el error; la máquina de sesión lo ignora.
func (g *Gateway) Logout(ctx context.Context, refreshToken string) error {
	return g.call(ctx, g.plain, http.MethodPost, PathLogout, RefreshRequest{RefreshToken: refreshToken}, nil, noStatus)
}

// FetchCurrentUser trae el perfil autoritativo por el cliente protegido.
func (g *Gateway) FetchCurrentUser(ctx context.Context) (*types.User, error) {
	c := g.ProtectedClient()
	if c == nil {
		return nil, ErrNotProtected
	}
	var out MeResponse
	if err := g.call(ctx, c, http.MethodGet, PathMe, nil, &out, meStatus); err != nil {
		return nil, err
	}
	if out.User == nil || out.User.ID == "" {
		return nil, autherr.ErrServer.WithCause(errors.New("empty user profile"))
	}
	return out.User, nil
}

// =================================================================================
// LLAMADAS PROTEGIDAS GENÉRICAS
// =================================================================================

// Do ejecuta req por el cliente protegido. Paths relativos se resuelven contra
// BaseURL; hosts distintos al de BaseURL se rechazan. El caller cierra el body.
func (g *Gateway) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	c := g.ProtectedClient()
	if c == nil {
		return nil, ErrNotProtected
	}
	req = req.Clone(ctx)
	if !req.URL.IsAbs() {
		req.URL = g.resolve(req.URL)
		req.Host = ""
	}
	if req.URL.Host != g.base.Host {
		return nil, ErrForeignHost
	}
	rid := g.stamp(req)
	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		err = transportError(ctx, err)
		g.logCall(req, rid, 0, start, err)
		return nil, err
	}
	g.logCall(req, rid, resp.StatusCode, start, nil)
	return resp, nil
}

// GetJSON hace GET path por el cliente protegido y decodifica la respuesta en out.
func (g *Gateway) GetJSON(ctx context.Context, path string, out any) error {
	c := g.ProtectedClient()
	if c == nil {
		return ErrNotProtected
	}
	return g.call(ctx, c, http.MethodGet, path, nil, out, statusMap{
		http.StatusUnauthorized: autherr.ErrTokenExpired,
	})
}

// =================================================================================
// INTERNOS
// =================================================================================

// call serializa in, envía y decodifica out (si no es nil) en respuestas 2xx.
func (g *Gateway) call(ctx context.Context, c *http.Client, method, path string, in, out any, sm statusMap) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("gateway: invalid path %q: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.resolve(ref).String(), body)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rid := g.stamp(req)

	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		err = transportError(ctx, err)
		g.logCall(req, rid, 0, start, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := statusError(resp, sm)
		g.logCall(req, rid, resp.StatusCode, start, err)
		return err
	}
	g.logCall(req, rid, resp.StatusCode, start, nil)

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return decodeError(err)
	}
	return nil
}

// resolve une ref relativa a la URL base conservando el prefijo de path.
func (g *Gateway) resolve(ref *url.URL) *url.URL {
	if ref.IsAbs() {
		return ref
	}
	u := g.base.JoinPath(ref.Path)
	u.RawQuery = ref.RawQuery
	return u
}

// stamp fija headers comunes y devuelve el request ID.
func (g *Gateway) stamp(req *http.Request) string {
	rid := req.Header.Get(HeaderRequestID)
	if rid == "" {
		rid = uuid.NewString()
		req.Header.Set(HeaderRequestID, rid)
	}
	req.Header.Set("Accept", "application/json")
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", g.cfg.UserAgent)
	}
	return rid
}

func (g *Gateway) logCall(req *http.Request, rid string, status int, start time.Time, err error) {
	fields := []zap.Field{
		logger.RequestID(rid),
		logger.Method(req.Method),
		logger.Path(req.URL.Path),
		logger.Status(status),
		logger.Duration(time.Since(start)),
	}
	if err != nil {
		g.log.Debug("auth server call failed", append(fields, logger.Err(err))...)
		return
	}
	g.log.Debug("auth server call", fields...)
}

// authResult valida una respuesta de login/verify con tokens.
func authResult(out AuthResponse) (*types.LoginResult, error) {
	if out.AccessToken == "" || out.RefreshToken == "" || out.User == nil {
		return nil, autherr.ErrServer.WithCause(errors.New("incomplete authentication response"))
	}
	pair := jwt.NewTokenPair(out.AccessToken, out.RefreshToken)
	return &types.LoginResult{Tokens: &pair, User: out.User}, nil
}
