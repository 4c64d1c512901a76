package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ToContext inyecta un logger en el contexto.
// La CLI lo usa para propagar un logger con el comando en curso.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From extrae el logger del contexto.
// Si no hay logger en el contexto, retorna el singleton.
func From(ctx context.Context) *zap.Logger {
	return FromOr(ctx, nil)
}

// FromOr extrae el logger del contexto; si no hay, usa base (o el singleton si base es nil).
// Los componentes guardan su propio logger inyectado y lo pasan como base.
func FromOr(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	if base != nil {
		return base
	}
	return L()
}
