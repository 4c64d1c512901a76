package gateway

import "github.com/dropDatabas3/sessionkit/internal/domain/types"

// Cuerpos del contrato /auth/*. Los JSON tags son camelCase.

// LoginRequest es el body de POST /auth/login.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	RememberMe bool   `json:"rememberMe"`
}

// AuthResponse es la respuesta de login y verify-2fa: tokens + usuario, o
// bien la señal de MFA.
type AuthResponse struct {
	AccessToken  string      `json:"accessToken,omitempty"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	User         *types.User `json:"user,omitempty"`

	RequiresMfa    bool     `json:"requiresMfa,omitempty"`
	ChallengeID    string   `json:"challengeId,omitempty"`
	AllowedMethods []string `json:"allowedMethods,omitempty"`
}

// VerifyMfaRequest es el body de POST /auth/verify-2fa.
type VerifyMfaRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// RefreshRequest es el body de POST /auth/refresh-token y /auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse es la respuesta de POST /auth/refresh-token.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// MeResponse es la respuesta de GET /auth/me.
type MeResponse struct {
	User *types.User `json:"user"`
}

// ErrorResponse es el sobre de error del servidor. Solo se usa como detalle
// de la causa; el mapeo a errores depende del status.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}
