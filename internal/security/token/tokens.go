// Package tokens genera refresh tokens opacos y su huella para indexarlos
// sin guardar el valor en claro.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// Prefix antecede a todo refresh token emitido; ayuda a reconocerlos en logs enmascarados.
const Prefix = "rt_"

// NewOpaque genera Prefix + nBytes aleatorios en base64url sin padding.
func NewOpaque(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Fingerprint devuelve sha256(tok) en base64url sin padding.
func Fingerprint(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
