// Package tokenstore persiste el TokenPair activo bajo dos claves conocidas
// (accessToken, refreshToken) para que la sesión sobreviva reinicios del proceso.
//
// Soporta:
//   - memory: in-process (go-cache), para tests y sesiones efímeras
//   - file: un documento JSON escrito atómicamente, opcionalmente cifrado
//   - redis: compartido entre procesos del mismo host/perfil
//
// El par siempre se escribe y se borra completo; nunca se lee a medias.
// El único escritor es la máquina de sesión.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	jwtx "github.com/dropDatabas3/sessionkit/internal/jwt"
)

// Claves de persistencia.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

var (
	// ErrNotFound: no hay par persistido (o falta una de las dos claves).
	ErrNotFound = errors.New("tokenstore: no token pair stored")
	// ErrIncompletePair: se intentó guardar un par sin alguno de los tokens.
	ErrIncompletePair = errors.New("tokenstore: token pair must carry both tokens")
)

// Store define la persistencia del par de tokens.
type Store interface {
	// Load devuelve el par persistido, con AccessTokenExpiry derivado del token.
	// Retorna ErrNotFound si falta alguna clave.
	Load(ctx context.Context) (types.TokenPair, error)

	// Save reemplaza ambos tokens juntos.
	Save(ctx context.Context, p types.TokenPair) error

	// Clear borra ambos tokens. Borrar un store vacío no es error.
	Clear(ctx context.Context) error

	// Close libera recursos del backend.
	Close() error
}

// Config para crear un Store.
type Config struct {
	Driver        string // "memory" | "file" | "redis"
	Path          string // file: ruta del documento
	EncryptionKey string // file: clave secretbox opcional (base64/hex, 32 bytes)
	Redis         RedisConfig
}

// RedisConfig para el driver redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New crea un Store según la configuración.
func New(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "memory", "":
		return NewMemory(), nil
	case "file":
		return NewFile(cfg.Path, cfg.EncryptionKey)
	case "redis":
		return NewRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("tokenstore: unknown driver %q", cfg.Driver)
	}
}

// pairFrom arma el par leído del backend; si falta algo es ErrNotFound.
func pairFrom(access, refresh string) (types.TokenPair, error) {
	if access == "" || refresh == "" {
		return types.TokenPair{}, ErrNotFound
	}
	return jwtx.NewTokenPair(access, refresh), nil
}

func validate(p types.TokenPair) error {
	if !p.Complete() {
		return ErrIncompletePair
	}
	return nil
}
