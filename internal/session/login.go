package session

import (
	"context"
	"errors"

	"github.com/dropDatabas3/sessionkit/internal/autherr"
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	"github.com/dropDatabas3/sessionkit/internal/observability/logger"
	"github.com/dropDatabas3/sessionkit/internal/util"
	"go.uber.org/zap"
)

// Login intenta autenticar con credenciales primarias.
//
// Éxito sin MFA: Authenticated con User y tokens persistidos.
// Éxito con MFA: MfaPending; se devuelve el challenge.
// Cualquier error vuelve a Unauthenticated.
//
// Un login nuevo reemplaza a uno en vuelo o a un challenge pendiente. Con una
// sesión activa falla con ErrAlreadyAuthenticated (hacer Logout antes).
func (m *Machine) Login(ctx context.Context, creds types.Credentials) (*types.LoginResult, error) {
	log := logger.FromOr(ctx, m.log).With(
		logger.Op("Login"),
		logger.Identifier(util.MaskEmail(creds.Identifier)),
	)

	m.mu.Lock()
	if m.state.HasSession() {
		m.mu.Unlock()
		return nil, autherr.ErrAlreadyAuthenticated
	}
	m.epoch++
	epoch := m.epoch
	m.resetLocked()
	m.unlockAndPublish(m.transitionLocked(Authenticating))

	res, err := m.gw.Login(ctx, creds)

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		log.Info("login result discarded: superseded", logger.Epoch(epoch))
		return nil, autherr.ErrSuperseded
	}
	if err != nil {
		m.resetLocked()
		m.unlockAndPublish(m.transitionLocked(Unauthenticated))
		log.Info("login failed", logger.Err(err))
		return nil, err
	}

	if res.RequiresMfa() {
		ch := *res.Challenge
		if ch.IssuedAt.IsZero() {
			ch.IssuedAt = m.now()
		}
		m.challenge = &ch
		m.mfaFailures = 0
		m.unlockAndPublish(m.transitionLocked(MfaPending))
		log.Info("login requires mfa", logger.ChallengeID(ch.ID))
		out := ch
		return &types.LoginResult{Challenge: &out}, nil
	}

	return m.establishLocked(ctx, res, log)
}

// VerifyMfa resuelve el challenge pendiente con un código.
//
// Un challengeID que no coincide con el pendiente (o sin challenge) falla con
// ErrInvalidChallenge sin tocar la red. ErrInvalidCode deja la máquina en
// MfaPending para reintentar; al agotar MfaMaxAttempts se devuelve
// ErrChallengeExpired y se vuelve a Unauthenticated.
func (m *Machine) VerifyMfa(ctx context.Context, challengeID, code string) (*types.LoginResult, error) {
	log := logger.FromOr(ctx, m.log).With(logger.Op("VerifyMfa"), logger.ChallengeID(challengeID))

	m.mu.Lock()
	if m.state != MfaPending || m.challenge == nil || m.challenge.ID != challengeID {
		m.mu.Unlock()
		m.metrics.ObserveMfa("invalid_challenge")
		return nil, autherr.ErrInvalidChallenge
	}
	if ttl := m.cfg.MfaChallengeTTL; ttl > 0 && m.now().Sub(m.challenge.IssuedAt) >= ttl {
		m.resetLocked()
		m.unlockAndPublish(m.transitionLocked(Unauthenticated))
		m.metrics.ObserveMfa("expired")
		log.Info("mfa challenge expired locally")
		return nil, autherr.ErrChallengeExpired
	}
	epoch := m.epoch
	m.mu.Unlock()

	res, err := m.gw.VerifyMfa(ctx, challengeID, code)

	m.mu.Lock()
	if m.epoch != epoch || m.state != MfaPending || m.challenge == nil || m.challenge.ID != challengeID {
		m.mu.Unlock()
		log.Info("mfa result discarded: superseded")
		return nil, autherr.ErrSuperseded
	}

	switch {
	case err == nil:
		m.metrics.ObserveMfa("ok")
		return m.establishLocked(ctx, res, log)

	case errors.Is(err, autherr.ErrInvalidCode):
		m.mfaFailures++
		if max := m.cfg.MfaMaxAttempts; max > 0 && m.mfaFailures >= max {
			m.resetLocked()
			m.unlockAndPublish(m.transitionLocked(Unauthenticated))
			m.metrics.ObserveMfa("exhausted")
			log.Info("mfa attempts exhausted", logger.Attempt(max))
			return nil, autherr.ErrChallengeExpired.WithCause(err)
		}
		failures := m.mfaFailures
		m.mu.Unlock()
		m.metrics.ObserveMfa("invalid_code")
		log.Info("mfa code rejected", logger.Attempt(failures))
		return nil, err

	case errors.Is(err, autherr.ErrChallengeExpired), errors.Is(err, autherr.ErrInvalidChallenge):
		m.resetLocked()
		m.unlockAndPublish(m.transitionLocked(Unauthenticated))
		m.metrics.ObserveMfa("expired")
		log.Info("mfa challenge rejected by server", logger.Err(err))
		return nil, err

	default:
		// Red/servidor: el challenge sigue vigente, el caller puede reintentar.
		m.mu.Unlock()
		m.metrics.ObserveMfa("error")
		log.Warn("mfa verification failed", logger.Err(err))
		return nil, err
	}
}

// CancelMfa abandona el challenge pendiente (MfaPending → Unauthenticated).
func (m *Machine) CancelMfa() {
	m.mu.Lock()
	if m.state != MfaPending {
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.resetLocked()
	m.unlockAndPublish(m.transitionLocked(Unauthenticated))
}

// Logout invalida la sesión. Siempre termina en Unauthenticated con el store
// vacío; la invalidación del refresh token en el servidor es best-effort y
// sus errores solo se loguean.
func (m *Machine) Logout(ctx context.Context) {
	log := logger.FromOr(ctx, m.log).With(logger.Op("Logout"))

	m.mu.Lock()
	m.epoch++
	refreshToken := m.tokens.RefreshToken
	m.resetLocked()
	m.clearStoreLocked(ctx)
	m.unlockAndPublish(m.transitionLocked(Unauthenticated))

	if refreshToken == "" || m.gw == nil {
		return
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.LogoutTimeout)
	defer cancel()
	if err := m.gw.Logout(lctx, refreshToken); err != nil {
		log.Debug("server-side logout failed (ignored)", logger.Err(err))
	}
}

// establishLocked instala tokens + usuario, persiste el par y pasa a
// Authenticated. Se llama con mu tomado y lo suelta.
func (m *Machine) establishLocked(ctx context.Context, res *types.LoginResult, log *zap.Logger) (*types.LoginResult, error) {
	if res == nil || res.Tokens == nil || !res.Tokens.Complete() || res.User == nil {
		m.resetLocked()
		m.unlockAndPublish(m.transitionLocked(Unauthenticated))
		return nil, autherr.ErrServer.WithCause(errors.New("incomplete authentication response"))
	}

	m.challenge = nil
	m.mfaFailures = 0
	m.tokens = *res.Tokens
	m.user = res.User.Clone()
	if err := m.store.Save(context.WithoutCancel(ctx), m.tokens); err != nil {
		// La sesión sigue válida en memoria; solo no sobrevivirá un reinicio.
		log.Warn("token store save failed", logger.Err(err))
	}
	userID := m.user.ID
	out := &types.LoginResult{Tokens: &types.TokenPair{}, User: m.user.Clone()}
	*out.Tokens = m.tokens
	m.unlockAndPublish(m.transitionLocked(Authenticated))

	log.Info("authenticated", logger.UserID(userID))
	return out, nil
}
