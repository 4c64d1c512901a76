package session

import (
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
)

// State es el estado canónico de autenticación.
type State int

const (
	// Unauthenticated: sin tokens utilizables.
	Unauthenticated State = iota
	// Authenticating: login en vuelo.
	Authenticating
	// MfaPending: credenciales primarias aceptadas, falta el segundo factor.
	MfaPending
	// Authenticated: sesión válida, User y TokenPair poblados.
	Authenticated
	// RefreshingToken: refresh en vuelo; el par anterior sigue valiendo para lecturas.
	RefreshingToken
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "Unauthenticated"
	case Authenticating:
		return "Authenticating"
	case MfaPending:
		return "MfaPending"
	case Authenticated:
		return "Authenticated"
	case RefreshingToken:
		return "RefreshingToken"
	}
	return "Unknown"
}

// HasSession reporta si hay una sesión establecida. RefreshingToken es un
// sub-estado de Authenticated: User y tokens siguen poblados.
func (s State) HasSession() bool {
	return s == Authenticated || s == RefreshingToken
}

// Snapshot es una lectura consistente del estado. User es una copia.
type Snapshot struct {
	State     State
	User      *types.User
	HasTokens bool
	Epoch     uint64
}

// Authenticated reporta si el snapshot tiene una sesión establecida.
func (s Snapshot) Authenticated() bool {
	return s.State.HasSession() && s.User != nil
}
