package session

import (
	"context"

	"github.com/dropDatabas3/sessionkit/internal/autherr"
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	"github.com/dropDatabas3/sessionkit/internal/observability/logger"
)

// Operaciones que usa el coordinador de refresh. Todas reciben la época
// capturada con Tokens: si la sesión cambió entremedio, no tienen efecto.

// Tokens devuelve el par vigente y la época de sesión. ok=false si no hay sesión.
func (m *Machine) Tokens() (pair types.TokenPair, epoch uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.HasSession() || !m.tokens.Complete() {
		return types.TokenPair{}, m.epoch, false
	}
	return m.tokens, m.epoch, true
}

// BeginRefresh pasa de Authenticated a RefreshingToken.
func (m *Machine) BeginRefresh(epoch uint64) error {
	m.mu.Lock()
	if m.epoch != epoch || !m.state.HasSession() {
		m.mu.Unlock()
		return autherr.ErrSessionExpired.WithCause(autherr.ErrSuperseded)
	}
	if m.state == RefreshingToken {
		m.mu.Unlock()
		return nil
	}
	m.unlockAndPublish(m.transitionLocked(RefreshingToken))
	return nil
}

// CompleteRefresh instala el par nuevo, lo persiste y vuelve a Authenticated.
// Si la sesión fue cerrada mientras tanto, el par se descarta (no se persiste).
func (m *Machine) CompleteRefresh(ctx context.Context, epoch uint64, pair types.TokenPair) error {
	m.mu.Lock()
	if m.epoch != epoch || m.state != RefreshingToken {
		m.mu.Unlock()
		return autherr.ErrSessionExpired.WithCause(autherr.ErrSuperseded)
	}
	m.tokens = pair
	if err := m.store.Save(context.WithoutCancel(ctx), pair); err != nil {
		m.log.Warn("token store save failed after refresh", logger.Op("CompleteRefresh"), logger.Err(err))
	}
	m.unlockAndPublish(m.transitionLocked(Authenticated))
	return nil
}

// AbortRefresh vuelve a Authenticated conservando el par anterior (errores
// transitorios del servidor o cancelación).
func (m *Machine) AbortRefresh(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch || m.state != RefreshingToken {
		m.mu.Unlock()
		return
	}
	m.unlockAndPublish(m.transitionLocked(Authenticated))
}

// ExpireSession cierra la sesión tras un refresh irrecuperable o una
// validación fallida: limpia memoria y store y pasa a Unauthenticated.
// Devuelve false si la época ya no es la vigente.
func (m *Machine) ExpireSession(ctx context.Context, epoch uint64, cause error) bool {
	m.mu.Lock()
	if m.epoch != epoch || !m.state.HasSession() {
		m.mu.Unlock()
		return false
	}
	m.epoch++
	m.resetLocked()
	m.clearStoreLocked(ctx)
	m.log.Info("session expired", logger.Op("ExpireSession"), logger.Err(cause))
	m.unlockAndPublish(m.transitionLocked(Unauthenticated))
	return true
}
