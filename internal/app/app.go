// Package app arma el cliente de sesión a partir de la configuración.
//
// Hay un único Container por proceso; la máquina de sesión se inyecta desde
// acá a quien la necesite (gateway, coordinador, guard, CLI).
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/sessionkit/internal/config"
	"github.com/dropDatabas3/sessionkit/internal/gateway"
	"github.com/dropDatabas3/sessionkit/internal/guard"
	"github.com/dropDatabas3/sessionkit/internal/metrics"
	"github.com/dropDatabas3/sessionkit/internal/observability/logger"
	"github.com/dropDatabas3/sessionkit/internal/refresh"
	"github.com/dropDatabas3/sessionkit/internal/session"
	"github.com/dropDatabas3/sessionkit/internal/tokenstore"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Container es el contenedor DI del cliente.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Session

	Store   tokenstore.Store
	Gateway *gateway.Gateway
	Session *session.Machine
	Refresh *refresh.Coordinator
	Guard   *guard.Guard
}

// Options permite reemplazar piezas (tests, CLI).
type Options struct {
	Logger *zap.Logger
	// Store reemplaza al construido desde cfg.TokenStore.
	Store tokenstore.Store
	// Transport base de los clientes HTTP.
	Transport http.RoundTripper
}

// New valida cfg y arma el grafo: store → gateway → máquina → coordinador →
// cliente protegido → guard. No toca la red ni restaura la sesión: eso lo
// hace Start.
func New(cfg *config.Config, opts Options) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = logger.L()
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}

	store := opts.Store
	if store == nil {
		store, err = tokenstore.New(tokenstore.Config{
			Driver:        cfg.TokenStore.Driver,
			Path:          cfg.TokenStore.Path,
			EncryptionKey: cfg.TokenStore.EncryptionKey,
			Redis: tokenstore.RedisConfig{
				Addr:     cfg.TokenStore.Redis.Addr,
				Password: cfg.TokenStore.Redis.Password,
				DB:       cfg.TokenStore.Redis.DB,
				Prefix:   cfg.TokenStore.Redis.Prefix,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("app: token store: %w", err)
		}
	}

	gw, err := gateway.New(gateway.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		Transport: opts.Transport,
	}, log, m)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sess := session.New(session.Deps{
		Gateway: gw,
		Store:   store,
		Config: session.Config{
			MfaMaxAttempts:  cfg.Session.MfaMaxAttempts,
			MfaChallengeTTL: cfg.Session.MfaChallengeTTL,
			LogoutTimeout:   cfg.Session.LogoutTimeout,
		},
		Logger:  log,
		Metrics: m,
	})

	coord := refresh.New(refresh.Deps{
		Session:   sess,
		Refresher: gw,
		Config: refresh.Config{
			SafetyMargin:   cfg.Session.SafetyMargin,
			MaxAttempts:    cfg.Session.RefreshAttempts,
			InitialBackoff: cfg.Session.InitialBackoff,
			MaxBackoff:     cfg.Session.MaxBackoff,
			Timeout:        cfg.Session.RefreshTimeout,
		},
		Logger:  log,
		Metrics: m,
	})
	gw.Protect(coord)

	return &Container{
		Config:   cfg,
		Logger:   log,
		Registry: reg,
		Metrics:  m,
		Store:    store,
		Gateway:  gw,
		Session:  sess,
		Refresh:  coord,
		Guard:    guard.New(sess),
	}, nil
}

// Start retoma la sesión persistida (si la hay).
func (c *Container) Start(ctx context.Context) error {
	return c.Session.Restore(ctx)
}

// Close espera el trabajo en segundo plano y cierra el store.
func (c *Container) Close() error {
	c.Session.Close()
	return c.Store.Close()
}
