// Package metrics expone métricas Prometheus del cliente de sesión.
// Todos los métodos son nil-safe: un *Session nil no registra nada.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Session agrupa los colectores del core de sesión.
type Session struct {
	RefreshTotal      *prometheus.CounterVec
	RefreshNetwork    prometheus.Counter
	RefreshDuration   prometheus.Histogram
	RefreshWaiters    prometheus.Counter
	Transitions       *prometheus.CounterVec
	ProtectedRequests *prometheus.CounterVec
	MfaVerifications  *prometheus.CounterVec
}

// New crea y registra los colectores en reg (o el registerer default si es nil).
// Si ya estaban registrados reutiliza los existentes.
func New(reg prometheus.Registerer) (*Session, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Session{
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_refresh_total",
			Help: "Refresh de tokens por resultado",
		}, []string{"result"}), // ok|reused|expired|server_error|canceled
		RefreshNetwork: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_refresh_network_calls_total",
			Help: "Llamadas de red a /auth/refresh-token (incluye reintentos)",
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "session_refresh_duration_seconds",
			Help:    "Duración de un refresh completo (con reintentos)",
			Buckets: prometheus.DefBuckets,
		}),
		RefreshWaiters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_refresh_waiters_total",
			Help: "Llamadas que esperaron un refresh en vuelo en lugar de iniciar otro",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_state_transitions_total",
			Help: "Transiciones de la máquina de sesión",
		}, []string{"from", "to"}),
		ProtectedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_protected_requests_total",
			Help: "Llamadas protegidas por resultado",
		}, []string{"outcome"}), // ok|replayed|unauthorized|error
		MfaVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_mfa_verifications_total",
			Help: "Verificaciones MFA por resultado",
		}, []string{"result"}),
	}

	var err error
	m.RefreshTotal = register(reg, m.RefreshTotal, &err)
	m.RefreshNetwork = register(reg, m.RefreshNetwork, &err)
	m.RefreshDuration = register(reg, m.RefreshDuration, &err)
	m.RefreshWaiters = register(reg, m.RefreshWaiters, &err)
	m.Transitions = register(reg, m.Transitions, &err)
	m.ProtectedRequests = register(reg, m.ProtectedRequests, &err)
	m.MfaVerifications = register(reg, m.MfaVerifications, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register registra c; si ya existe devuelve el colector registrado.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

// ObserveRefresh registra el resultado y la duración de un refresh.
func (m *Session) ObserveRefresh(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
	if d > 0 {
		m.RefreshDuration.Observe(d.Seconds())
	}
}

// IncRefreshNetwork cuenta una llamada de red de refresh.
func (m *Session) IncRefreshNetwork() {
	if m == nil {
		return
	}
	m.RefreshNetwork.Inc()
}

// IncRefreshWaiter cuenta un caller que se colgó de un refresh en vuelo.
func (m *Session) IncRefreshWaiter() {
	if m == nil {
		return
	}
	m.RefreshWaiters.Inc()
}

// ObserveTransition cuenta una transición de estado.
func (m *Session) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// ObserveProtected cuenta una llamada protegida.
func (m *Session) ObserveProtected(outcome string) {
	if m == nil {
		return
	}
	m.ProtectedRequests.WithLabelValues(outcome).Inc()
}

// ObserveMfa cuenta una verificación MFA.
func (m *Session) ObserveMfa(result string) {
	if m == nil {
		return
	}
	m.MfaVerifications.WithLabelValues(result).Inc()
}
