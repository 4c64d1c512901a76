package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		// debug | info | warn | error
		Level string `yaml:"level"`
	} `yaml:"log"`

	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`

	Session struct {
		// Margen con el que se considera vencido el access token.
		SafetyMargin time.Duration `yaml:"safety_margin"`
		// Presupuesto de llamadas de red por refresh (incluye el primer intento).
		RefreshAttempts int           `yaml:"refresh_attempts"`
		InitialBackoff  time.Duration `yaml:"initial_backoff"`
		MaxBackoff      time.Duration `yaml:"max_backoff"`
		RefreshTimeout  time.Duration `yaml:"refresh_timeout"`

		MfaMaxAttempts  int           `yaml:"mfa_max_attempts"`
		MfaChallengeTTL time.Duration `yaml:"mfa_challenge_ttl"`
		LogoutTimeout   time.Duration `yaml:"logout_timeout"`
	} `yaml:"session"`

	TokenStore struct {
		// memory | file | redis
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		// Clave de 32 bytes (base64 o hex) para cifrar el archivo. Vacía = texto plano.
		EncryptionKey string `yaml:"encryption_key"`
		Redis         struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"token_store"`

	Metrics struct {
		// Si no está vacío, los comandos de larga duración exponen /metrics ahí.
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Default devuelve una config con los valores por defecto, sin leer archivos
// ni entorno.
func Default() *Config {
	var c Config
	c.setDefaults()
	return &c
}

// Load lee path (si no está vacío), completa defaults y aplica overrides de
// entorno (SESSION_*). No valida: llamar Validate.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.setDefaults()
	return &c, nil
}

// sane defaults
func (c *Config) setDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 15 * time.Second
	}
	if c.Session.SafetyMargin == 0 {
		c.Session.SafetyMargin = 30 * time.Second
	}
	if c.Session.RefreshAttempts == 0 {
		c.Session.RefreshAttempts = 3
	}
	if c.Session.InitialBackoff == 0 {
		c.Session.InitialBackoff = 200 * time.Millisecond
	}
	if c.Session.MaxBackoff == 0 {
		c.Session.MaxBackoff = 3 * time.Second
	}
	if c.Session.RefreshTimeout == 0 {
		c.Session.RefreshTimeout = 30 * time.Second
	}
	if c.Session.MfaMaxAttempts == 0 {
		c.Session.MfaMaxAttempts = 5
	}
	if c.Session.MfaChallengeTTL == 0 {
		c.Session.MfaChallengeTTL = 5 * time.Minute
	}
	if c.Session.LogoutTimeout == 0 {
		c.Session.LogoutTimeout = 5 * time.Second
	}
	if c.TokenStore.Driver == "" {
		c.TokenStore.Driver = "file"
	}
	if c.TokenStore.Driver == "file" && c.TokenStore.Path == "" {
		c.TokenStore.Path = DefaultTokenPath()
	}
	if c.TokenStore.Redis.Prefix == "" {
		c.TokenStore.Redis.Prefix = "sessionkit"
	}
}

// DefaultTokenPath es $XDG_CONFIG_HOME/sessionkit/session.json (o el
// equivalente del sistema). Si no se puede resolver, usa el directorio actual.
func DefaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "session.json"
	}
	return filepath.Join(dir, "sessionkit", "session.json")
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	// API
	if v, ok := getEnvStr("SESSION_API_BASE_URL"); ok {
		c.API.BaseURL = v
	}
	if v, ok := getEnvDur("SESSION_API_TIMEOUT"); ok {
		c.API.Timeout = v
	}

	// SESSION
	if v, ok := getEnvDur("SESSION_SAFETY_MARGIN"); ok {
		c.Session.SafetyMargin = v
	}
	if v, ok := getEnvInt("SESSION_REFRESH_ATTEMPTS"); ok {
		c.Session.RefreshAttempts = v
	}
	if v, ok := getEnvDur("SESSION_INITIAL_BACKOFF"); ok {
		c.Session.InitialBackoff = v
	}
	if v, ok := getEnvDur("SESSION_MAX_BACKOFF"); ok {
		c.Session.MaxBackoff = v
	}
	if v, ok := getEnvDur("SESSION_REFRESH_TIMEOUT"); ok {
		c.Session.RefreshTimeout = v
	}
	if v, ok := getEnvInt("SESSION_MFA_MAX_ATTEMPTS"); ok {
		c.Session.MfaMaxAttempts = v
	}
	if v, ok := getEnvDur("SESSION_MFA_CHALLENGE_TTL"); ok {
		c.Session.MfaChallengeTTL = v
	}
	if v, ok := getEnvDur("SESSION_LOGOUT_TIMEOUT"); ok {
		c.Session.LogoutTimeout = v
	}

	// TOKEN STORE
	if v, ok := getEnvStr("SESSION_TOKEN_STORE"); ok {
		c.TokenStore.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SESSION_TOKEN_PATH"); ok {
		c.TokenStore.Path = v
	}
	if v, ok := getEnvStr("SESSION_TOKEN_KEY"); ok {
		c.TokenStore.EncryptionKey = v
	}
	if v, ok := getEnvStr("SESSION_REDIS_ADDR"); ok {
		c.TokenStore.Redis.Addr = v
	}
	if v, ok := getEnvStr("SESSION_REDIS_PASSWORD"); ok {
		c.TokenStore.Redis.Password = v
	}
	if v, ok := getEnvInt("SESSION_REDIS_DB"); ok {
		c.TokenStore.Redis.DB = v
	}
	if v, ok := getEnvStr("SESSION_REDIS_PREFIX"); ok {
		c.TokenStore.Redis.Prefix = v
	}

	// METRICS
	if v, ok := getEnvStr("SESSION_METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
}

// Validate revisa los valores críticos.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q must be an absolute http(s) url", c.API.BaseURL))
	}
	if c.Session.SafetyMargin < 0 {
		errs = append(errs, errors.New("session.safety_margin must be >= 0"))
	}
	if c.Session.RefreshAttempts < 1 {
		errs = append(errs, errors.New("session.refresh_attempts must be >= 1"))
	}
	if c.Session.MaxBackoff < c.Session.InitialBackoff {
		errs = append(errs, errors.New("session.max_backoff must be >= session.initial_backoff"))
	}
	if c.Session.MfaMaxAttempts < 0 {
		errs = append(errs, errors.New("session.mfa_max_attempts must be >= 0"))
	}
	switch c.TokenStore.Driver {
	case "memory":
	case "file":
		if c.TokenStore.Path == "" {
			errs = append(errs, errors.New("token_store.path is required for the file driver"))
		}
	case "redis":
		if c.TokenStore.Redis.Addr == "" {
			errs = append(errs, errors.New("token_store.redis.addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("token_store.driver %q not supported (memory|file|redis)", c.TokenStore.Driver))
	}
	if c.App.Env == "prod" && c.TokenStore.Driver == "file" && c.TokenStore.EncryptionKey == "" {
		errs = append(errs, errors.New("token_store.encryption_key is required in prod for the file driver"))
	}
	return errors.Join(errs...)
}
