package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente (session, gateway, refresh, tokenstore).
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer crea un campo para la capa (core, transport, store).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Attempt numera los reintentos (1-based).
func Attempt(n int) zap.Field {
	return zap.Int("attempt", n)
}

// Driver identifica el backend de persistencia.
func Driver(v string) zap.Field {
	return zap.String("driver", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el X-Request-ID enviado al servidor.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración de una llamada.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SESIÓN
// =================================================================================

// State crea un campo para el estado de la máquina de sesión.
func State(v string) zap.Field {
	return zap.String("state", v)
}

// Transition registra un cambio de estado from → to.
func Transition(from, to string) zap.Field {
	return zap.String("transition", from+"->"+to)
}

// UserID crea un campo para el ID del usuario.
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// Identifier crea un campo para el identificador de login (pasar ya enmascarado).
func Identifier(v string) zap.Field {
	return zap.String("identifier", v)
}

// ChallengeID crea un campo para el challenge MFA pendiente.
func ChallengeID(v string) zap.Field {
	return zap.String("challenge_id", v)
}

// Token crea un campo para un token (pasar ya enmascarado).
func Token(key, masked string) zap.Field {
	return zap.String(key, masked)
}

// Epoch crea un campo para la época de sesión.
func Epoch(v uint64) zap.Field {
	return zap.Uint64("epoch", v)
}

// Trigger indica qué disparó un refresh (proactive|reactive).
func Trigger(v string) zap.Field {
	return zap.String("trigger", v)
}
