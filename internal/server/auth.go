package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/battlewithbytes/pve-nestlab/internal/config"
)

const (
	sessionCookieName = "pve-nestlab-session"
	sessionMaxAge     = 24 * time.Hour
)

// sessionStore holds the operator's logged-in session tokens in memory.
// There is no persistence; a restart logs everyone out.
type sessionStore struct {
	mu     sync.Mutex
	expiry map[string]time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{expiry: make(map[string]time.Time)}
}

// issue mints a random token valid for sessionMaxAge.
func (st *sessionStore) issue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	st.mu.Lock()
	st.expiry[token] = time.Now().Add(sessionMaxAge)
	st.mu.Unlock()
	return token, nil
}

// valid reports whether the token is live, dropping it once expired.
func (st *sessionStore) valid(token string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	expires, ok := st.expiry[token]
	if !ok {
		return false
	}
	if time.Now().After(expires) {
		delete(st.expiry, token)
		return false
	}
	return true
}

func (st *sessionStore) revoke(token string) {
	st.mu.Lock()
	delete(st.expiry, token)
	st.mu.Unlock()
}

// withAuth wraps a handler to require a live session when password auth is
// enabled. With auth mode none every request passes through.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth.Mode == config.AuthModeNone {
			next(w, r)
			return
		}

		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !s.sessions.valid(cookie.Value) {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}

		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth.PasswordHash), []byte(body.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	token, err := s.sessions.issue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.sessions.revoke(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	authenticated := false
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		authenticated = s.sessions.valid(cookie.Value)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": authenticated,
		"auth_required": s.cfg.Auth.Mode == config.AuthModePassword,
	})
}
