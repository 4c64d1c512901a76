// Package authtest es un servidor de autenticación en memoria que habla el
// contrato /auth/* del gateway. Lo usan los tests y `sessionctl mock-server`.
//
// Emite access tokens HS256 con vencimiento configurable, refresh tokens
// opacos que rotan en cada uso y challenges MFA con ID uuid. Expone perillas
// para inyectar fallas (FailNextRefresh, AbortNextRefresh, SetRefreshDelay,
// RevokeAccess, ExpireChallenge) y contadores de llamadas por ruta.
package authtest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/sessionkit/internal/claims"
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	tokens "github.com/dropDatabas3/sessionkit/internal/security/token"
	"github.com/go-chi/chi/v5"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Issuer es el iss de los tokens emitidos.
const Issuer = "https://authtest.local"

// Rutas de ejemplo de la API protegida.
const (
	PathAlerts      = "/api/alerts"
	PathEcho        = "/api/echo"
	PathAlways401   = "/api/always-401"
	DefaultMfaCode  = "123456"
	DefaultPassword = "secret"
)

type account struct {
	user    types.User
	hash    []byte
	mfaCode string
}

type challenge struct {
	userID string
	issued time.Time
	used   bool
}

type refreshFailure struct {
	status int
	abort  bool
}

// Server es el servidor fake. Seguro para uso concurrente.
type Server struct {
	mu sync.Mutex

	secret    []byte
	accessTTL time.Duration
	now       func() time.Time

	accounts   map[string]*account // por identifier (lower)
	byID       map[string]*account
	challenges map[string]*challenge
	refresh    map[string]string // huella del refresh token -> userID
	revoked    map[string]bool   // access tokens revocados

	failRefresh  []refreshFailure
	refreshDelay time.Duration
	calls        map[string]int
	lastBearer   string

	router chi.Router
}

// Option configura el Server.
type Option func(*Server)

// WithAccessTTL fija la vida de los access tokens emitidos.
func WithAccessTTL(d time.Duration) Option { return func(s *Server) { s.accessTTL = d } }

// WithSecret fija la clave HMAC.
func WithSecret(k []byte) Option { return func(s *Server) { s.secret = k } }

// WithClock reemplaza el reloj (tokens y validación).
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New crea el servidor sin usuarios.
func New(opts ...Option) *Server {
	s := &Server{
		secret:     []byte("authtest-secret"),
		accessTTL:  15 * time.Minute,
		now:        time.Now,
		accounts:   map[string]*account{},
		byID:       map[string]*account{},
		challenges: map[string]*challenge{},
		refresh:    map[string]string{},
		revoked:    map[string]bool{},
		calls:      map[string]int{},
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

// AddUser registra un usuario. mfaCode != "" exige segundo factor.
func (s *Server) AddUser(u types.User, password, mfaCode string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.MFAEnabled = mfaCode != ""
	a := &account{user: u, hash: hash, mfaCode: mfaCode}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(u.Email)] = a
	s.byID[u.ID] = a
}

// SeedDemo carga dos usuarios: ana@example.com (admin, sin MFA) y
// bruno@example.com (analyst, MFA con DefaultMfaCode). Password DefaultPassword.
func (s *Server) SeedDemo() {
	s.AddUser(types.User{
		ID: "u-ana", DisplayName: "Ana", Email: "ana@example.com",
		Roles: []string{"admin"}, Permissions: []string{"alerts:read", "alerts:ack", "reports:export"},
	}, DefaultPassword, "")
	s.AddUser(types.User{
		ID: "u-bruno", DisplayName: "Bruno", Email: "bruno@example.com",
		Roles: []string{"analyst"}, Permissions: []string{"alerts:read"},
	}, DefaultPassword, DefaultMfaCode)
}

// Handler devuelve el router HTTP.
func (s *Server) Handler() http.Handler { return s.router }

// Start levanta un httptest.Server que se cierra al terminar el test.
func (s *Server) Start(t testing.TB) string {
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return ts.URL
}

// =================================================================================
// PERILLAS
// =================================================================================

// FailNextRefresh hace que el próximo /auth/refresh-token responda status.
// Se pueden encolar varias.
func (s *Server) FailNextRefresh(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = append(s.failRefresh, refreshFailure{status: status})
}

// AbortNextRefresh corta la conexión en el próximo refresh (falla de red).
func (s *Server) AbortNextRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = append(s.failRefresh, refreshFailure{abort: true})
}

// SetRefreshDelay demora cada refresh d (antes de responder).
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// SetAccessTTL cambia la vida de los próximos access tokens.
func (s *Server) SetAccessTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = d
}

// RevokeAccess hace que token sea rechazado con 401 aunque no haya vencido.
func (s *Server) RevokeAccess(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

// RevokeRefreshTokens invalida todos los refresh tokens emitidos.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = map[string]string{}
}

// ExpireChallenge marca un challenge como vencido (410 en verify).
func (s *Server) ExpireChallenge(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.challenges[id]; ok {
		c.issued = time.Time{}
	}
}

// Calls devuelve cuántas requests recibió path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastBearer devuelve el último bearer token recibido en una ruta protegida.
func (s *Server) LastBearer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBearer
}

// RefreshTokenValid reporta si rt sigue aceptándose.
func (s *Server) RefreshTokenValid(rt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refresh[tokens.Fingerprint(rt)]
	return ok
}

// IssueTokens emite un par para userID sin pasar por login (útil para
// sembrar un token store).
func (s *Server) IssueTokens(userID string) (access, refresh string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[userID]
	if !ok {
		return "", "", errors.New("authtest: unknown user")
	}
	return s.issueLocked(a)
}

// =================================================================================
// TOKENS
// =================================================================================

func (s *Server) issueLocked(a *account) (string, string, error) {
	now := s.now()
	access, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims{
		"iss":   Issuer,
		"sub":   a.user.ID,
		"email": a.user.Email,
		"name":  a.user.DisplayName,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
		"custom": map[string]any{
			claims.SystemNamespace(Issuer): map[string]any{
				"roles": a.user.Roles,
				"perms": a.user.Permissions,
			},
		},
	}).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}
	rt, err := tokens.NewOpaque(32)
	if err != nil {
		return "", "", err
	}
	s.refresh[tokens.Fingerprint(rt)] = a.user.ID
	return access, rt, nil
}

// authenticate valida el bearer y devuelve la cuenta.
func (s *Server) authenticate(r *http.Request) (*account, bool) {
	raw := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || tok == "" {
		return nil, false
	}

	s.mu.Lock()
	s.lastBearer = tok
	revoked := s.revoked[tok]
	s.mu.Unlock()
	if revoked {
		return nil, false
	}

	parsed, err := jwtv5.Parse(tok, func(*jwtv5.Token) (any, error) { return s.secret, nil },
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithTimeFunc(s.now),
		jwtv5.WithIssuer(Issuer),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	sub, _ := parsed.Claims.GetSubject()

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[sub]
	return a, ok
}

func (s *Server) count(path string) {
	s.mu.Lock()
	s.calls[path]++
	s.mu.Unlock()
}
