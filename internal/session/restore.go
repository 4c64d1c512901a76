package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/sessionkit/internal/autherr"
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	jwtx "github.com/dropDatabas3/sessionkit/internal/jwt"
	"github.com/dropDatabas3/sessionkit/internal/observability/logger"
	"github.com/dropDatabas3/sessionkit/internal/tokenstore"
)

// Restore retoma la sesión persistida al arrancar.
//
//   - Sin par (o par incompleto): queda en Unauthenticated.
//   - Access token vencido: Unauthenticated y se limpia el store.
//   - Si no: Authenticated de forma optimista con un perfil provisional
//     derivado de los claims, y se agenda en segundo plano ReloadUser para
//     validar la sesión contra el servidor.
//
// Solo tiene efecto desde Unauthenticated.
func (m *Machine) Restore(ctx context.Context) error {
	log := logger.FromOr(ctx, m.log).With(logger.Op("Restore"))

	pair, err := m.store.Load(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		log.Debug("no persisted session")
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: restore: %w", err)
	}

	m.mu.Lock()
	if m.state != Unauthenticated {
		m.mu.Unlock()
		return nil
	}
	if pair.ExpiredAt(m.now(), 0) {
		m.clearStoreLocked(ctx)
		m.mu.Unlock()
		log.Info("persisted access token expired; starting unauthenticated")
		return nil
	}

	claims, _ := jwtx.Decode(pair.AccessToken)
	m.epoch++
	epoch := m.epoch
	m.tokens = pair
	m.user = jwtx.ProvisionalUser(claims)
	m.unlockAndPublish(m.transitionLocked(Authenticated))
	log.Info("session restored; validating in background", logger.UserID(claims.Subject))

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		if _, err := m.reloadUser(m.bgCtx, epoch); err != nil {
			m.log.Info("background session validation failed", logger.Op("Restore"), logger.Err(err))
		}
	}()
	return nil
}

// ReloadUser vuelve a pedir el perfil (/auth/me) y lo reemplaza completo.
// Si el servidor rechaza la sesión, se cierra y se devuelve ErrSessionExpired.
// Errores transitorios (red/servidor) no cambian el estado.
func (m *Machine) ReloadUser(ctx context.Context) (*types.User, error) {
	m.mu.Lock()
	epoch := m.epoch
	has := m.state.HasSession()
	m.mu.Unlock()
	if !has {
		return nil, autherr.ErrSessionExpired
	}
	return m.reloadUser(ctx, epoch)
}

func (m *Machine) reloadUser(ctx context.Context, epoch uint64) (*types.User, error) {
	u, err := m.gw.FetchCurrentUser(ctx)
	if err != nil {
		if errors.Is(err, autherr.ErrSessionExpired) {
			// El coordinador ya cerró la sesión.
			m.ExpireSession(ctx, epoch, err)
			return nil, err
		}
		if errors.Is(err, autherr.ErrTokenExpired) || errors.Is(err, autherr.ErrTokenInvalid) {
			m.ExpireSession(ctx, epoch, err)
			return nil, autherr.ErrSessionExpired.WithCause(err)
		}
		return nil, err
	}
	if u == nil {
		return nil, autherr.ErrServer.WithCause(errors.New("empty user profile"))
	}

	m.mu.Lock()
	if m.epoch != epoch || !m.state.HasSession() {
		m.mu.Unlock()
		return nil, autherr.ErrSuperseded
	}
	m.user = u.Clone()
	m.unlockAndPublish(m.snapshotLocked())
	return u.Clone(), nil
}
