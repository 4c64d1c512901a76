// Package guard decide si una vista protegida puede renderizarse.
//
// Es consultivo (UX): el servidor sigue siendo quien hace cumplir la
// autorización. No hace llamadas de red ni muta la sesión.
package guard

import (
	"fmt"
	"strings"

	"github.com/dropDatabas3/sessionkit/internal/session"
)

// MatchMode define cómo se evalúa un conjunto de requisitos.
type MatchMode int

const (
	// MatchAny: alcanza con un elemento presente.
	MatchAny MatchMode = iota
	// MatchAll: todos los elementos deben estar presentes.
	MatchAll
)

func (m MatchMode) String() string {
	if m == MatchAll {
		return "ALL"
	}
	return "ANY"
}

// ParseMatchMode acepta "any"/"all" (case-insensitive). Vacío es ANY.
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return MatchAny, nil
	case "all":
		return MatchAll, nil
	}
	return MatchAny, fmt.Errorf("guard: invalid match mode %q", s)
}

// Policy es la política de una vista. Se construye por chequeo.
type Policy struct {
	RequiredRoles       []string
	RequiredPermissions []string
	MatchMode           MatchMode
}

// Decision es el resultado de evaluar una Policy.
type Decision int

const (
	Allow Decision = iota
	DenyUnauthenticated
	DenyForbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "Allow"
	case DenyUnauthenticated:
		return "DenyUnauthenticated"
	case DenyForbidden:
		return "DenyForbidden"
	}
	return "Unknown"
}

// Evaluate es la función pura (estado, política) → decisión.
// RefreshingToken cuenta como autenticado: el usuario sigue poblado.
func Evaluate(snap session.Snapshot, p Policy) Decision {
	if !snap.Authenticated() {
		return DenyUnauthenticated
	}
	if !matches(snap.User.Roles, p.RequiredRoles, p.MatchMode) {
		return DenyForbidden
	}
	if !matches(snap.User.Permissions, p.RequiredPermissions, p.MatchMode) {
		return DenyForbidden
	}
	return Allow
}

// Snapshotter es lo que Guard lee de la sesión (lo implementa *session.Machine).
type Snapshotter interface {
	Snapshot() session.Snapshot
}

// Guard evalúa políticas contra el estado actual de la sesión.
type Guard struct {
	sess Snapshotter
}

// New crea un Guard sobre la sesión.
func New(sess Snapshotter) *Guard {
	return &Guard{sess: sess}
}

// Check evalúa p contra el estado actual.
func (g *Guard) Check(p Policy) Decision {
	return Evaluate(g.sess.Snapshot(), p)
}

// RequireRoles es un atajo para una política solo de roles.
func (g *Guard) RequireRoles(mode MatchMode, roles ...string) Decision {
	return g.Check(Policy{RequiredRoles: roles, MatchMode: mode})
}

// RequirePermissions es un atajo para una política solo de permisos.
func (g *Guard) RequirePermissions(mode MatchMode, perms ...string) Decision {
	return g.Check(Policy{RequiredPermissions: perms, MatchMode: mode})
}

// matches evalúa required contra have. required vacío siempre pasa.
func matches(have, required []string, mode MatchMode) bool {
	req := normalize(required)
	if len(req) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, v := range normalize(have) {
		set[v] = struct{}{}
	}
	if mode == MatchAll {
		for _, r := range req {
			if _, ok := set[r]; !ok {
				return false
			}
		}
		return true
	}
	for _, r := range req {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
