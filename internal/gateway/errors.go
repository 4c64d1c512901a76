package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dropDatabas3/sessionkit/internal/autherr"
)

// statusMap traduce los status esperables de un endpoint a su error de dominio.
// Lo que no figura: 5xx y cualquier otro status terminan en ErrServer.
type statusMap map[int]*autherr.AuthError

var (
	loginStatus = statusMap{
		http.StatusBadRequest:   autherr.ErrInvalidCredentials,
		http.StatusUnauthorized: autherr.ErrInvalidCredentials,
	}
	verifyStatus = statusMap{
		http.StatusBadRequest:   autherr.ErrInvalidCode,
		http.StatusUnauthorized: autherr.ErrInvalidCode,
		http.StatusNotFound:     autherr.ErrInvalidChallenge,
		http.StatusGone:         autherr.ErrChallengeExpired,
	}
	refreshStatus = statusMap{
		http.StatusBadRequest:   autherr.ErrTokenInvalid,
		http.StatusUnauthorized: autherr.ErrTokenInvalid,
		http.StatusForbidden:    autherr.ErrTokenInvalid,
	}
	meStatus = statusMap{
		http.StatusUnauthorized: autherr.ErrTokenExpired,
		http.StatusForbidden:    autherr.ErrTokenInvalid,
	}
	noStatus = statusMap{}
)

// statusError construye el error para una respuesta no-2xx. Consume el body.
func statusError(resp *http.Response, m statusMap) error {
	detail := readErrorDetail(resp.Body)
	base, ok := m[resp.StatusCode]
	if !ok {
		base = autherr.ErrServer
	}
	out := base.WithStatus(resp.StatusCode)
	if detail != "" {
		out.Err = errors.New(detail)
	}
	return out
}

func readErrorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var er ErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		if er.ErrorDescription != "" {
			return er.Error + ": " + er.ErrorDescription
		}
		return er.Error
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}

// transportError normaliza un error de http.Client.Do.
//   - cancelación del caller: se devuelve el error del contexto
//   - un *AuthError del transport protegido (refresh fallido): se propaga
//   - el resto es ErrNetwork
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var ae *autherr.AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return autherr.ErrNetwork.WithCause(err)
}

// decodeError marca un 2xx con body ilegible.
func decodeError(err error) error {
	return autherr.ErrServer.WithCause(fmt.Errorf("decode response: %w", err))
}
