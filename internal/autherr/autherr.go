// Package autherr define la taxonomía de errores del cliente de sesión.
//
// Todos los errores son *AuthError comparables con errors.Is por Code, de modo
// que una copia con causa o status (WithCause/WithStatus) sigue matcheando
// contra el valor predefinido.
package autherr

import (
	"errors"
	"fmt"
)

// Code identifica la clase de error.
type Code string

const (
	CodeInvalidCredentials   Code = "INVALID_CREDENTIALS"
	CodeInvalidChallenge     Code = "INVALID_CHALLENGE"
	CodeInvalidCode          Code = "INVALID_CODE"
	CodeChallengeExpired     Code = "CHALLENGE_EXPIRED"
	CodeTokenExpired         Code = "TOKEN_EXPIRED"
	CodeTokenInvalid         Code = "TOKEN_INVALID"
	CodeSessionExpired       Code = "SESSION_EXPIRED"
	CodeNetwork              Code = "NETWORK_ERROR"
	CodeServer               Code = "SERVER_ERROR"
	CodeSuperseded           Code = "SUPERSEDED"
	CodeAlreadyAuthenticated Code = "ALREADY_AUTHENTICATED"
)

// AuthError es el error estándar del core de sesión.
type AuthError struct {
	Code       Code
	Message    string
	HTTPStatus int   // status recibido del servidor (0 si no hubo respuesta)
	Err        error // causa original, para logs; no se muestra al usuario
}

// Error implementa la interfaz error.
func (e *AuthError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" (status %d)", e.HTTPStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap permite acceder al error original.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matchea por Code contra otro *AuthError.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Code == e.Code
}

// WithCause devuelve una COPIA con la causa seteada, sin mutar los predefinidos.
func (e *AuthError) WithCause(err error) *AuthError {
	c := *e
	c.Err = err
	return &c
}

// WithStatus devuelve una COPIA con el status HTTP recibido.
func (e *AuthError) WithStatus(status int) *AuthError {
	c := *e
	c.HTTPStatus = status
	return &c
}

// =================================================================================
// ERRORES PREDEFINIDOS
// =================================================================================

var (
	ErrInvalidCredentials = &AuthError{
		Code:    CodeInvalidCredentials,
		Message: "Usuario o contraseña incorrectos.",
	}

	ErrInvalidChallenge = &AuthError{
		Code:    CodeInvalidChallenge,
		Message: "El desafío MFA no corresponde al login pendiente.",
	}

	ErrInvalidCode = &AuthError{
		Code:    CodeInvalidCode,
		Message: "El código de verificación es incorrecto o venció.",
	}

	ErrChallengeExpired = &AuthError{
		Code:    CodeChallengeExpired,
		Message: "La verificación expiró. Volvé a iniciar sesión.",
	}

	ErrTokenExpired = &AuthError{
		Code:    CodeTokenExpired,
		Message: "El access token expiró.",
	}

	ErrTokenInvalid = &AuthError{
		Code:    CodeTokenInvalid,
		Message: "El token fue rechazado por el servidor.",
	}

	ErrSessionExpired = &AuthError{
		Code:    CodeSessionExpired,
		Message: "Tu sesión expiró. Iniciá sesión nuevamente.",
	}

	ErrNetwork = &AuthError{
		Code:    CodeNetwork,
		Message: "No se pudo contactar al servidor de autenticación.",
	}

	ErrServer = &AuthError{
		Code:    CodeServer,
		Message: "El servidor de autenticación respondió con un error.",
	}

	// ErrSuperseded: el resultado de una llamada en vuelo se descartó porque
	// hubo un logout o un login más nuevo mientras tanto.
	ErrSuperseded = &AuthError{
		Code:    CodeSuperseded,
		Message: "La operación fue reemplazada por otra más reciente.",
	}

	ErrAlreadyAuthenticated = &AuthError{
		Code:    CodeAlreadyAuthenticated,
		Message: "Ya hay una sesión activa.",
	}
)

// CodeOf devuelve el Code del primer *AuthError en la cadena, o "" si no hay.
func CodeOf(err error) Code {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// UserVisible reporta si el error debe mostrarse al usuario como mensaje.
// El resto son transitorios o los absorbe el core.
func UserVisible(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidCredentials, CodeInvalidCode, CodeChallengeExpired, CodeSessionExpired:
		return true
	}
	return false
}

// Retryable reporta si el caller puede reintentar la misma operación.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeNetwork, CodeServer:
		return true
	}
	return false
}

// Message devuelve el mensaje para el usuario, o "" si el error no es visible.
func Message(err error) string {
	if !UserVisible(err) {
		return ""
	}
	var ae *AuthError
	errors.As(err, &ae)
	return ae.Message
}
