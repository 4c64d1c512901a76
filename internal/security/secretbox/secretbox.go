// Package secretbox cifra valores chicos en reposo (ej: el archivo de tokens)
// con XChaCha20-Poly1305. Formato: base64(nonce)|base64(ciphertext).
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sep = "|"

var (
	// ErrKeyLength: la clave no decodifica a 32 bytes.
	ErrKeyLength = fmt.Errorf("secretbox: key must decode to %d bytes", chacha20poly1305.KeySize)
	// ErrMalformed: el texto cifrado no tiene el formato esperado.
	ErrMalformed = errors.New("secretbox: malformed ciphertext")
)

// Box cifra y descifra con una clave fija.
type Box struct {
	key []byte
}

// New acepta la clave en base64 (con o sin padding) o hex (64 chars).
// Generar con: openssl rand -base64 32
func New(key string) (*Box, error) {
	k, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	return &Box{key: k}, nil
}

func parseKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	if len(key) == 2*chacha20poly1305.KeySize {
		if b, err := hex.DecodeString(key); err == nil {
			return b, nil
		}
	}
	return nil, ErrKeyLength
}

// Seal cifra plain. aad se autentica pero no se cifra (ej: nombre del archivo).
func (b *Box) Seal(plain, aad []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("secretbox: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plain, aad)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Open descifra lo producido por Seal. Falla si el texto fue alterado.
func (b *Box) Open(sealed string, aad []byte) ([]byte, error) {
	parts := strings.Split(strings.TrimSpace(sealed), sep)
	if len(parts) != 2 {
		return nil, ErrMalformed
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrMalformed
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("secretbox: open: %w", err)
	}
	return pt, nil
}
