// Package refresh coordina la renovación del access token.
//
// Garantías:
//   - Single-flight: como mucho un refresh de red en vuelo; todos los callers
//     que lo necesiten esperan ese mismo resultado.
//   - Un caller que llega tarde con un token viejo (camino reactivo) y encuentra
//     que la sesión ya tiene un token distinto y vigente, sigue con ése sin red.
//   - Solo NetworkError se reintenta (backoff exponencial acotado). TokenInvalid o
//     el presupuesto agotado cierran la sesión y todos reciben SessionExpired.
//   - El coordinador nunca navega ni muestra UI; solo devuelve errores.
package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dropDatabas3/sessionkit/internal/autherr"
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	"github.com/dropDatabas3/sessionkit/internal/metrics"
	"github.com/dropDatabas3/sessionkit/internal/observability/logger"
	"github.com/dropDatabas3/sessionkit/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const flightKey = "refresh"

// Session es la vista de la máquina de sesión que necesita el coordinador
// (la implementa *session.Machine).
type Session interface {
	Tokens() (pair types.TokenPair, epoch uint64, ok bool)
	BeginRefresh(epoch uint64) error
	CompleteRefresh(ctx context.Context, epoch uint64, pair types.TokenPair) error
	AbortRefresh(epoch uint64)
	ExpireSession(ctx context.Context, epoch uint64, cause error) bool
}

// Refresher hace la llamada de red (la implementa gateway.Gateway).
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (types.TokenPair, error)
}

// Config del coordinador. Son constantes de configuración, no valores por call site.
type Config struct {
	// SafetyMargin adelanta el vencimiento para absorber skew y latencia.
	SafetyMargin time.Duration
	// MaxAttempts es el presupuesto de llamadas de red por refresh.
	MaxAttempts int
	// InitialBackoff y MaxBackoff acotan la espera entre reintentos.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout acota un refresh completo, reintentos incluidos.
	Timeout time.Duration
}

// DefaultConfig devuelve 30s de margen, 3 intentos y backoff 200ms..3s.
func DefaultConfig() Config {
	return Config{
		SafetyMargin:   30 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     3 * time.Second,
		Timeout:        30 * time.Second,
	}
}

// Deps del coordinador.
type Deps struct {
	Session   Session
	Refresher Refresher
	Config    Config
	Logger    *zap.Logger
	Metrics   *metrics.Session
	Now       func() time.Time
}

// Coordinator es dueño de la cola de refresh (el singleflight.Group).
type Coordinator struct {
	sess      Session
	refresher Refresher
	cfg       Config
	sf        singleflight.Group
	log       *zap.Logger
	metrics   *metrics.Session
	now       func() time.Time
}

// New crea el coordinador. Los campos de Config en cero toman el default.
func New(deps Deps) *Coordinator {
	def := DefaultConfig()
	cfg := deps.Config
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = def.SafetyMargin
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.L()
	}
	return &Coordinator{
		sess:      deps.Session,
		refresher: deps.Refresher,
		cfg:       cfg,
		log:       deps.Logger.With(logger.Component("refresh")),
		metrics:   deps.Metrics,
		now:       deps.Now,
	}
}

// AccessToken devuelve un access token utilizable para una llamada protegida.
// Si el vigente vence dentro del margen, refresca (camino proactivo).
// Sin sesión devuelve ErrSessionExpired.
func (c *Coordinator) AccessToken(ctx context.Context) (string, error) {
	pair, _, ok := c.sess.Tokens()
	if !ok {
		return "", autherr.ErrSessionExpired
	}
	if !pair.ExpiredAt(c.now(), c.cfg.SafetyMargin) {
		return pair.AccessToken, nil
	}
	return c.refresh(ctx, pair.AccessToken, "proactive")
}

// Refresh pide un token distinto de stale, el que usó una llamada rechazada
// con 401 (camino reactivo).
func (c *Coordinator) Refresh(ctx context.Context, stale string) (string, error) {
	return c.refresh(ctx, stale, "reactive")
}

func (c *Coordinator) refresh(ctx context.Context, stale, trigger string) (string, error) {
	if tok, ok := c.fresher(stale); ok {
		c.metrics.ObserveRefresh("reused", 0)
		return tok, nil
	}

	// El vuelo compartido no hereda la cancelación de quien lo inició: si ese
	// caller se va, el resto de la cola sigue esperando el mismo resultado.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(flightKey, func() (any, error) {
		return c.run(flightCtx, stale, trigger)
	})

	select {
	case r := <-ch:
		if r.Shared {
			c.metrics.IncRefreshWaiter()
		}
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// fresher reporta si la sesión ya tiene un token distinto de stale y vigente.
func (c *Coordinator) fresher(stale string) (string, bool) {
	pair, _, ok := c.sess.Tokens()
	if !ok || pair.AccessToken == stale || pair.ExpiredAt(c.now(), c.cfg.SafetyMargin) {
		return "", false
	}
	return pair.AccessToken, true
}

// run es el cuerpo del vuelo único.
func (c *Coordinator) run(ctx context.Context, stale, trigger string) (string, error) {
	log := logger.FromOr(ctx, c.log).With(logger.Op("Refresh"), logger.Trigger(trigger))
	start := c.now()

	pair, epoch, ok := c.sess.Tokens()
	if !ok {
		c.metrics.ObserveRefresh("expired", 0)
		return "", autherr.ErrSessionExpired
	}
	if pair.AccessToken != stale && !pair.ExpiredAt(c.now(), c.cfg.SafetyMargin) {
		c.metrics.ObserveRefresh("reused", 0)
		return pair.AccessToken, nil
	}
	if err := c.sess.BeginRefresh(epoch); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	attempt := 0
	op := func() (types.TokenPair, error) {
		attempt++
		c.metrics.IncRefreshNetwork()
		p, err := c.refresher.Refresh(ctx, pair.RefreshToken)
		if err == nil {
			return p, nil
		}
		log.Warn("refresh attempt failed", logger.Attempt(attempt), logger.Err(err))
		if errors.Is(err, autherr.ErrNetwork) {
			return p, err
		}
		return p, backoff.Permanent(err)
	}

	newPair, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
	)
	elapsed := c.now().Sub(start)

	switch {
	case err == nil:
		if err := c.sess.CompleteRefresh(ctx, epoch, newPair); err != nil {
			c.metrics.ObserveRefresh("superseded", elapsed)
			log.Info("refreshed pair discarded: session closed meanwhile")
			return "", err
		}
		c.metrics.ObserveRefresh("ok", elapsed)
		log.Debug("token refreshed",
			logger.Attempt(attempt),
			logger.Duration(elapsed),
			logger.Token("access_token", util.MaskToken(newPair.AccessToken)),
		)
		return newPair.AccessToken, nil

	case errors.Is(err, autherr.ErrServer):
		// 5xx: sin transición terminal; el par anterior sigue vigente.
		c.sess.AbortRefresh(epoch)
		c.metrics.ObserveRefresh("server_error", elapsed)
		return "", err

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		c.sess.AbortRefresh(epoch)
		c.metrics.ObserveRefresh("canceled", elapsed)
		return "", autherr.ErrNetwork.WithCause(err)

	default:
		c.sess.ExpireSession(ctx, epoch, err)
		c.metrics.ObserveRefresh("expired", elapsed)
		log.Info("refresh failed; session expired", logger.Attempt(attempt), logger.Err(err))
		return "", autherr.ErrSessionExpired.WithCause(err)
	}
}

func (c *Coordinator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Multiplier = 2
	return b
}
