// Package types define tipos de dominio compartidos entre paquetes del cliente de sesión.
package types

import "strings"

// MfaMethod es un canal de segundo factor ofrecido por el servidor.
type MfaMethod string

const (
	// MfaMethodApp es un código TOTP de una app autenticadora.
	MfaMethodApp MfaMethod = "app"
	// MfaMethodSMS es un código enviado por SMS.
	MfaMethodSMS MfaMethod = "sms"
	// MfaMethodEmail es un código enviado por email.
	MfaMethodEmail MfaMethod = "email"
)

// IsValid retorna true si el método es conocido.
func (m MfaMethod) IsValid() bool {
	switch m {
	case MfaMethodApp, MfaMethodSMS, MfaMethodEmail:
		return true
	}
	return false
}

// ParseMfaMethods normaliza la lista recibida del servidor, descartando
// valores desconocidos y duplicados.
func ParseMfaMethods(raw []string) []MfaMethod {
	out := make([]MfaMethod, 0, len(raw))
	seen := make(map[MfaMethod]struct{}, len(raw))
	for _, r := range raw {
		m := MfaMethod(strings.ToLower(strings.TrimSpace(r)))
		if !m.IsValid() {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
