package types

import (
	"maps"
	"slices"
	"time"
)

// Credentials son las credenciales primarias de un intento de login.
// Transitorias: nunca se persisten.
type Credentials struct {
	Identifier string
	Secret     string
	RememberMe bool
}

// User es el perfil del usuario autenticado. Se reemplaza completo en
// login, refresh de perfil y logout.
type User struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	Email       string         `json:"email"`
	Roles       []string       `json:"roles"`
	Permissions []string       `json:"permissions"`
	MFAEnabled  bool           `json:"mfaEnabled"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone devuelve una copia profunda (los slices y el mapa no se comparten).
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	c.Permissions = slices.Clone(u.Permissions)
	if u.Metadata != nil {
		c.Metadata = maps.Clone(u.Metadata)
	}
	return &c
}

// TokenPair es el par de tokens activo. Siempre se lee y reemplaza completo.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// AccessTokenExpiry se deriva del claim exp del access token.
	// Cero significa desconocido (token opaco).
	AccessTokenExpiry time.Time
}

// IsZero retorna true si no hay ningún token.
func (p TokenPair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Complete retorna true si ambos tokens están presentes.
func (p TokenPair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// ExpiredAt reporta si el access token debe considerarse vencido en t,
// adelantando el vencimiento en margin. Con expiry desconocido nunca vence
// de forma proactiva (el camino reactivo cubre ese caso).
func (p TokenPair) ExpiredAt(t time.Time, margin time.Duration) bool {
	if p.AccessTokenExpiry.IsZero() {
		return false
	}
	return !t.Add(margin).Before(p.AccessTokenExpiry)
}

// MfaChallenge existe entre un login que exige segundo factor y su resolución.
// No se persiste.
type MfaChallenge struct {
	ID             string
	AllowedMethods []MfaMethod
	IssuedAt       time.Time
}

// LoginResult es el resultado normalizado de login o verificación MFA.
// O bien Tokens+User, o bien Challenge.
type LoginResult struct {
	Tokens    *TokenPair
	User      *User
	Challenge *MfaChallenge
}

// RequiresMfa retorna true si el servidor pidió segundo factor.
func (r *LoginResult) RequiresMfa() bool {
	return r != nil && r.Challenge != nil
}
