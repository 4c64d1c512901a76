// Package jwt decodifica los access tokens recibidos del servidor.
//
// El cliente NO verifica firmas (no tiene las claves y no es el punto de
// enforcement); solo lee claims para derivar el vencimiento y un perfil
// provisional mientras se valida la sesión contra /auth/me.
package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/dropDatabas3/sessionkit/internal/claims"
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT indica un token opaco (no decodificable como JWT).
var ErrNotJWT = errors.New("jwt: token is not a decodable JWT")

// Claims es el subconjunto de claims que el cliente entiende.
type Claims struct {
	Subject     string
	Issuer      string
	Email       string
	Name        string
	Roles       []string
	Permissions []string
	MFA         bool
	ExpiresAt   time.Time // cero si no hay exp
	IssuedAt    time.Time
}

// Decode lee los claims sin verificar la firma.
func Decode(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return Claims{}, ErrNotJWT
	}
	mc := jwtv5.MapClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, errors.Join(ErrNotJWT, err)
	}

	var c Claims
	c.Subject, _ = mc.GetSubject()
	c.Issuer, _ = mc.GetIssuer()
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	c.Email, _ = mc["email"].(string)
	c.Name, _ = mc["name"].(string)
	if amr := stringList(mc["amr"]); len(amr) > 0 {
		for _, m := range amr {
			if m == "mfa" || m == "otp" {
				c.MFA = true
			}
		}
	}

	c.Roles = stringList(mc["roles"])
	c.Permissions = stringList(mc["perms"])
	if len(c.Permissions) == 0 {
		c.Permissions = stringList(mc["permissions"])
	}
	// Tokens de hellojohn: roles/perms viven en custom[<issuer>/claims/sys]
	if custom, ok := mc["custom"].(map[string]any); ok {
		if sys, ok := custom[claims.SystemNamespace(c.Issuer)].(map[string]any); ok {
			if len(c.Roles) == 0 {
				c.Roles = stringList(sys["roles"])
			}
			if len(c.Permissions) == 0 {
				c.Permissions = stringList(sys["perms"])
			}
		}
	}
	return c, nil
}

// ExpiryOf devuelve el exp del token, o cero si es opaco o no tiene exp.
func ExpiryOf(token string) time.Time {
	c, err := Decode(token)
	if err != nil {
		return time.Time{}
	}
	return c.ExpiresAt
}

// NewTokenPair arma un TokenPair derivando el vencimiento del access token.
func NewTokenPair(access, refresh string) types.TokenPair {
	return types.TokenPair{
		AccessToken:       access,
		RefreshToken:      refresh,
		AccessTokenExpiry: ExpiryOf(access),
	}
}

// ProvisionalUser arma un perfil a partir de los claims. Se usa al restaurar
// una sesión persistida, hasta que /auth/me devuelve el perfil real.
func ProvisionalUser(c Claims) *types.User {
	name := c.Name
	if name == "" {
		name = c.Email
	}
	return &types.User{
		ID:          c.Subject,
		DisplayName: name,
		Email:       c.Email,
		Roles:       c.Roles,
		Permissions: c.Permissions,
		MFAEnabled:  c.MFA,
		Metadata:    map[string]any{"provisional": true},
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, i := range t {
			if s, ok := i.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return strings.Fields(t)
	}
	return nil
}
