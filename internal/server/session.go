// Package server provides the HTTP session, WebSocket, and command handling
// for the singing capture web interface.
package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"maps"
	"net/http"
	"sync"
	"time"
)

const (
	sessionCookieName = "singcapture_session"
	sessionDuration   = 24 * time.Hour
	csrfTokenDuration = 10 * time.Minute
)

// tokenStore maps opaque random tokens to their expiry. Callers hold the
// SessionManager lock.
type tokenStore map[string]time.Time

func (ts tokenStore) issue(now time.Time, ttl time.Duration) string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	maps.DeleteFunc(ts, func(_ string, exp time.Time) bool { return now.After(exp) })
	token := hex.EncodeToString(b)
	ts[token] = now.Add(ttl)
	return token
}

// live reports whether token exists and has not expired. Expired tokens are
// dropped on sight.
func (ts tokenStore) live(token string, now time.Time) bool {
	exp, ok := ts[token]
	if ok && now.After(exp) {
		delete(ts, token)
		return false
	}
	return ok
}

// SessionManager keeps login sessions and single-use login-form CSRF tokens
// in memory.
type SessionManager struct {
	mu       sync.Mutex
	sessions tokenStore
	csrf     tokenStore
	now      func() time.Time
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(tokenStore),
		csrf:     make(tokenStore),
		now:      time.Now,
	}
}

// Create starts a session and returns its token, or "" if no random token
// could be generated.
func (sm *SessionManager) Create() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.sessions.issue(sm.now(), sessionDuration)
}

// Validate reports whether token names a live session.
func (sm *SessionManager) Validate(token string) bool {
	if token == "" {
		return false
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.sessions.live(token, sm.now())
}

// Delete ends a session.
func (sm *SessionManager) Delete(token string) {
	sm.mu.Lock()
	delete(sm.sessions, token)
	sm.mu.Unlock()
}

// CreateCSRFToken issues a token for one login form submission.
func (sm *SessionManager) CreateCSRFToken() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.csrf.issue(sm.now(), csrfTokenDuration)
}

// ValidateCSRFToken consumes token and reports whether it was live.
func (sm *SessionManager) ValidateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ok := sm.csrf.live(token, sm.now())
	delete(sm.csrf, token)
	return ok
}

// AuthMiddleware requires a live session cookie. A plain page load of "/"
// is redirected to /login; WebSocket upgrades and downloads get 401 so the
// browser script can react.
func (sm *SessionManager) AuthMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie(sessionCookieName); err == nil && sm.Validate(c.Value) {
				next(w, r)
				return
			}
			if r.Method == http.MethodGet && r.URL.Path == "/" && r.Header.Get("Upgrade") == "" {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}
}

// Login checks the submitted credentials in constant time and sets the
// session cookie on success.
func (sm *SessionManager) Login(w http.ResponseWriter, r *http.Request, username, password, wantUser, wantPass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(wantUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(wantPass)) == 1
	if !userOK || !passOK {
		return false
	}

	token := sm.Create()
	if token == "" {
		return false
	}
	http.SetCookie(w, sessionCookie(r, token, int(sessionDuration.Seconds())))
	return true
}

// Logout ends the caller's session and expires the cookie.
func (sm *SessionManager) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		sm.Delete(c.Value)
	}
	http.SetCookie(w, sessionCookie(r, "", -1))
}

func sessionCookie(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	}
}
