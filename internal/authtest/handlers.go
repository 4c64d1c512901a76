package authtest

import (
	"io"
	"net/http"
	"strings"
	"time"

	tokens "github.com/dropDatabas3/sessionkit/internal/security/token"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const challengeTTL = 5 * time.Minute

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.countCalls)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/verify-2fa", s.handleVerify)
		r.Post("/refresh-token", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Get("/me", s.handleMe)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/always-401", func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusUnauthorized, "invalid_token", "siempre 401")
		})
		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)
			r.Get("/alerts", s.handleAlerts)
			r.Post("/echo", s.handleEcho)
		})
	})
	return r
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.count(r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authenticate(r); !ok {
			writeError(w, r, http.StatusUnauthorized, "invalid_token", "token inválido o vencido")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginReq struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	RememberMe bool   `json:"rememberMe"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginReq
	if !readJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Identifier) == "" || in.Secret == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "identifier y secret son obligatorios")
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[strings.ToLower(strings.TrimSpace(in.Identifier))]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(a.hash, []byte(in.Secret)) != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid_credentials", "usuario o password inválidos")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a.mfaCode != "" {
		id := uuid.NewString()
		s.challenges[id] = &challenge{userID: a.user.ID, issued: s.now()}
		writeJSON(w, http.StatusOK, map[string]any{
			"requiresMfa":    true,
			"challengeId":    id,
			"allowedMethods": []string{"app", "email"},
		})
		return
	}
	s.writeSessionLocked(w, r, a)
}

type verifyReq struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var in verifyReq
	if !readJSON(w, r, &in) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[in.ChallengeID]
	if !ok || c.used {
		writeError(w, r, http.StatusNotFound, "invalid_challenge", "challenge desconocido")
		return
	}
	if c.issued.IsZero() || s.now().Sub(c.issued) > challengeTTL {
		delete(s.challenges, in.ChallengeID)
		writeError(w, r, http.StatusGone, "challenge_expired", "challenge vencido")
		return
	}
	a := s.byID[c.userID]
	if a == nil || in.Code != a.mfaCode {
		writeError(w, r, http.StatusUnauthorized, "invalid_code", "código incorrecto")
		return
	}
	c.used = true
	delete(s.challenges, in.ChallengeID)
	s.writeSessionLocked(w, r, a)
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay := s.refreshDelay
	var fail *refreshFailure
	if len(s.failRefresh) > 0 {
		f := s.failRefresh[0]
		s.failRefresh = s.failRefresh[1:]
		fail = &f
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if fail != nil {
		if fail.abort {
			panic(http.ErrAbortHandler)
		}
		writeError(w, r, fail.status, "injected_failure", "falla inyectada")
		return
	}

	var in refreshReq
	if !readJSON(w, r, &in) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refresh[tokens.Fingerprint(in.RefreshToken)]
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid_grant", "refresh token inválido")
		return
	}
	delete(s.refresh, tokens.Fingerprint(in.RefreshToken))
	a := s.byID[userID]
	access, rt, err := s.issueLocked(a)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accessToken": access, "refreshToken": rt})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var in refreshReq
	if !readJSON(w, r, &in) {
		return
	}
	s.mu.Lock()
	delete(s.refresh, tokens.Fingerprint(in.RefreshToken))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	a, ok := s.authenticate(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid_token", "token inválido o vencido")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": a.user})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": []map[string]any{
			{"id": "al-1", "severity": "high", "title": "Temperatura fuera de rango"},
			{"id": "al-2", "severity": "low", "title": "Sensor sin reportar"},
		},
	})
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) writeSessionLocked(w http.ResponseWriter, r *http.Request, a *account) {
	access, rt, err := s.issueLocked(a)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": rt,
		"user":         a.user,
	})
}
