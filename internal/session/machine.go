// Package session implementa la máquina de estados de la sesión del cliente:
// la única fuente de verdad de autenticación para el resto de la aplicación.
//
// Se crea una sola instancia por proceso (ver internal/app) y se inyecta por
// constructor en quien la necesite; no hay acceso global.
//
// Épocas: cada login y cada logout incrementan la época de sesión. Las
// operaciones que suspenden (red) capturan la época al empezar y, si al volver
// cambió, descartan su resultado con ErrSuperseded. Así un logout concurrente
// siempre gana y una verificación MFA vieja no puede revivir un login abandonado.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	"github.com/dropDatabas3/sessionkit/internal/metrics"
	"github.com/dropDatabas3/sessionkit/internal/observability/logger"
	"github.com/dropDatabas3/sessionkit/internal/tokenstore"
	"go.uber.org/zap"
)

// Gateway es lo que la máquina necesita de la red (lo implementa gateway.Gateway).
type Gateway interface {
	Login(ctx context.Context, creds types.Credentials) (*types.LoginResult, error)
	VerifyMfa(ctx context.Context, challengeID, code string) (*types.LoginResult, error)
	Logout(ctx context.Context, refreshToken string) error
	FetchCurrentUser(ctx context.Context) (*types.User, error)
}

// Config de la máquina.
type Config struct {
	// MfaMaxAttempts: códigos incorrectos tolerados por challenge. 0 = sin límite.
	MfaMaxAttempts int
	// MfaChallengeTTL: vencimiento local del challenge. 0 = solo el del servidor.
	MfaChallengeTTL time.Duration
	// LogoutTimeout acota la invalidación best-effort en el servidor.
	LogoutTimeout time.Duration
}

// DefaultConfig devuelve los valores por defecto.
func DefaultConfig() Config {
	return Config{
		MfaMaxAttempts:  5,
		MfaChallengeTTL: 5 * time.Minute,
		LogoutTimeout:   5 * time.Second,
	}
}

// Deps agrupa las dependencias de la máquina.
type Deps struct {
	Gateway Gateway
	Store   tokenstore.Store
	Config  Config
	Logger  *zap.Logger
	Metrics *metrics.Session
	Now     func() time.Time
}

// Machine es la máquina de estados de sesión. Segura para uso concurrente.
type Machine struct {
	mu          sync.Mutex
	state       State
	user        *types.User
	tokens      types.TokenPair
	challenge   *types.MfaChallenge
	mfaFailures int
	epoch       uint64

	// pubMu ordena la entrega a listeners según el orden de las transiciones.
	pubMu     sync.Mutex
	listeners map[int]func(Snapshot)
	nextID    int

	gw      Gateway
	store   tokenstore.Store
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Session
	now     func() time.Time

	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New crea la máquina en Unauthenticated. Llamar Restore para retomar una
// sesión persistida.
func New(deps Deps) *Machine {
	if deps.Store == nil {
		deps.Store = tokenstore.NewMemory()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.L()
	}
	if deps.Config.LogoutTimeout <= 0 {
		deps.Config.LogoutTimeout = DefaultConfig().LogoutTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		state:     Unauthenticated,
		listeners: map[int]func(Snapshot){},
		gw:        deps.Gateway,
		store:     deps.Store,
		cfg:       deps.Config,
		log:       deps.Logger.With(logger.Component("session")),
		metrics:   deps.Metrics,
		now:       deps.Now,
		bgCtx:     ctx,
		bgCancel:  cancel,
	}
}

// =================================================================================
// LECTURAS
// =================================================================================

// State devuelve el estado actual.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentUser devuelve una copia del usuario, o nil si no hay sesión.
func (m *Machine) CurrentUser() *types.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user.Clone()
}

// Snapshot devuelve una lectura consistente de estado + usuario.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// PendingChallenge devuelve una copia del challenge MFA pendiente, o nil.
func (m *Machine) PendingChallenge() *types.MfaChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		return nil
	}
	c := *m.challenge
	c.AllowedMethods = append([]types.MfaMethod(nil), m.challenge.AllowedMethods...)
	return &c
}

// Subscribe registra fn para recibir un Snapshot tras cada transición (y tras
// cada reemplazo del perfil). Las entregas respetan el orden de las
// transiciones. fn no debe invocar operaciones que muten la máquina de forma
// sincrónica. Devuelve la función para desuscribirse.
func (m *Machine) Subscribe(fn func(Snapshot)) func() {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.pubMu.Lock()
		defer m.pubMu.Unlock()
		delete(m.listeners, id)
	}
}

// Close cancela el trabajo en segundo plano (validación de sesión) y lo espera.
func (m *Machine) Close() {
	m.bgCancel()
	m.bg.Wait()
}

// Wait espera a que termine el trabajo en segundo plano sin cancelarlo.
func (m *Machine) Wait() {
	m.bg.Wait()
}

// =================================================================================
// HELPERS INTERNOS (llamar con mu tomado)
// =================================================================================

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		State:     m.state,
		User:      m.user.Clone(),
		HasTokens: m.tokens.Complete(),
		Epoch:     m.epoch,
	}
}

// transitionLocked cambia de estado y devuelve el snapshot a publicar.
func (m *Machine) transitionLocked(to State) Snapshot {
	from := m.state
	if from != to {
		m.state = to
		m.metrics.ObserveTransition(from.String(), to.String())
		m.log.Debug("transition",
			logger.Transition(from.String(), to.String()),
			logger.Epoch(m.epoch),
		)
	}
	return m.snapshotLocked()
}

// resetLocked borra todo el material de sesión en memoria.
func (m *Machine) resetLocked() {
	m.user = nil
	m.tokens = types.TokenPair{}
	m.challenge = nil
	m.mfaFailures = 0
}

// unlockAndPublish suelta mu y entrega snap a los listeners. Tomar pubMu antes
// de soltar mu garantiza que las entregas salen en orden de transición.
func (m *Machine) unlockAndPublish(snap Snapshot) {
	m.pubMu.Lock()
	m.mu.Unlock()
	defer m.pubMu.Unlock()
	for _, fn := range m.listeners {
		fn(snap)
	}
}

// clearStoreLocked borra el store ignorando la cancelación del caller: limpiar
// nunca debe quedar a medias por un contexto vencido.
func (m *Machine) clearStoreLocked(ctx context.Context) {
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.log.Warn("token store clear failed", logger.Err(err))
	}
}
