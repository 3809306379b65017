package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AnTengye/docchain/config"
	"github.com/AnTengye/docchain/model"
	"github.com/AnTengye/docchain/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
)

const (
	tokenKeyName = "token"
	csrfKeyName  = "csrf"
)

// State is where a browser session sits in the login state machine.
type State int

const (
	StateInitializing State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is what a page knows about its viewer. The zero value is the
// initializing state.
type Session struct {
	State State
	User  *model.User
}

// Loading reports whether the session has not been resolved yet.
func (s Session) Loading() bool {
	return s.State == StateInitializing
}

func (s Session) Authenticated() bool {
	return s.State == StateAuthenticated && s.User != nil
}

// Privileged reports whether the viewer may approve or reject.
func (s Session) Privileged() bool {
	return s.Authenticated() && s.User.Role.Privileged()
}

// SessionStore is the single authority on who is logged in. The bearer
// token lives in a signed cookie session under the key "token"; the store
// is the only code that writes or clears it.
type SessionStore struct {
	cookies sessions.Store
	name    string
	api     *APIClient
	cache   *UserCache
	now     func() time.Time
}

func NewSessionStore(cfg *config.SessionConfig, api *APIClient, cache *UserCache) *SessionStore {
	// The cookie carries the bearer token, so it is encrypted as well as signed.
	blockKey := sha256.Sum256([]byte("session-encryption:" + cfg.Secret))
	store := sessions.NewCookieStore([]byte(cfg.Secret), blockKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAge(),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{
		cookies: store,
		name:    cfg.CookieName,
		api:     api,
		cache:   cache,
		now:     time.Now,
	}
}

// requestTokens reads the token from the request's cookie session each
// time it is asked, so a token stored mid-request is seen by later calls.
// The cookie session of one request is not safe for concurrent use, so
// reads are serialised.
type requestTokens struct {
	mu    sync.Mutex
	store *SessionStore
	r     *http.Request
}

func (t *requestTokens) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.token(t.r)
}

// Client returns an API client that authenticates as the viewer of r. The
// client may be shared by goroutines serving the same request.
func (s *SessionStore) Client(r *http.Request) *APIClient {
	return s.api.WithTokens(&requestTokens{store: s, r: r})
}

func (s *SessionStore) cookieSession(r *http.Request) *sessions.Session {
	// A cookie that no longer verifies (rotated secret, tampering) still
	// yields a fresh, empty session.
	sess, err := s.cookies.Get(r, s.name)
	if err != nil {
		logger.Debug(r.Context(), "discarding unreadable session cookie", "error", err)
	}
	return sess
}

func (s *SessionStore) token(r *http.Request) string {
	token, _ := s.cookieSession(r).Values[tokenKeyName].(string)
	return token
}

// Restore resolves the session for one page request.
func (s *SessionStore) Restore(r *http.Request, w http.ResponseWriter) Session {
	ctx := r.Context()
	token := s.token(r)
	if token == "" {
		return Session{State: StateUnauthenticated}
	}

	expiry := tokenExpiry(token)
	if !expiry.IsZero() && !s.now().Before(expiry) {
		logger.Info(ctx, "stored token expired", "expired_at", expiry)
		s.clear(r, w)
		return Session{State: StateUnauthenticated}
	}

	if user, ok := s.cache.Get(token); ok {
		return Session{State: StateAuthenticated, User: &user}
	}

	user, err := s.api.WithTokens(StaticToken(token)).Me(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// The browser is gone; leave the token alone.
			return Session{}
		}
		logger.Warn(ctx, "failed to fetch current user", "error", err)
		s.clear(r, w)
		return Session{State: StateUnauthenticated}
	}

	s.cache.Put(token, *user, expiry)
	return Session{State: StateAuthenticated, User: user}
}

// Login authenticates against the API and persists the returned token.
// On failure nothing is persisted and the API error is returned unchanged.
func (s *SessionStore) Login(r *http.Request, w http.ResponseWriter, email, password string) (Session, error) {
	ctx := r.Context()

	result, err := s.api.Login(ctx, email, password)
	if err != nil {
		logger.Info(ctx, "login failed", "email", email, "error", err)
		if s.token(r) != "" {
			s.clear(r, w)
		}
		return Session{State: StateUnauthenticated}, err
	}

	sess := s.cookieSession(r)
	sess.Values[tokenKeyName] = result.AccessToken
	if err := sess.Save(r, w); err != nil {
		return Session{State: StateUnauthenticated}, fmt.Errorf("failed to persist token: %w", err)
	}

	user := result.User
	s.cache.Put(result.AccessToken, user, tokenExpiry(result.AccessToken))
	logger.Info(ctx, "user logged in", "email", user.Email, "role", user.Role)
	return Session{State: StateAuthenticated, User: &user}, nil
}

// Logout forgets the token and the cached user. The API is not called.
func (s *SessionStore) Logout(r *http.Request, w http.ResponseWriter) error {
	return s.clear(r, w)
}

// Invalidate reacts to an authentication failure from any API call by
// clearing the session. It reports whether err was such a failure, in which
// case the caller must send the browser to the login screen.
func (s *SessionStore) Invalidate(r *http.Request, w http.ResponseWriter, err error) bool {
	if !errors.Is(err, ErrAuthentication) {
		return false
	}
	logger.Info(r.Context(), "session invalidated by api", "error", err)
	s.clear(r, w)
	return true
}

func (s *SessionStore) clear(r *http.Request, w http.ResponseWriter) error {
	sess := s.cookieSession(r)
	if token, ok := sess.Values[tokenKeyName].(string); ok && token != "" {
		s.cache.Delete(token)
	}
	delete(sess.Values, tokenKeyName)
	if err := sess.Save(r, w); err != nil {
		logger.Error(r.Context(), "failed to clear session", "error", err)
		return err
	}
	return nil
}

// CSRFToken returns the form token bound to this browser, creating it on
// first use.
func (s *SessionStore) CSRFToken(r *http.Request, w http.ResponseWriter) (string, error) {
	sess := s.cookieSession(r)
	if token, ok := sess.Values[csrfKeyName].(string); ok && token != "" {
		return token, nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	sess.Values[csrfKeyName] = token
	if err := sess.Save(r, w); err != nil {
		return "", err
	}
	return token, nil
}

// ValidCSRF checks a submitted form token against the session's.
func (s *SessionStore) ValidCSRF(r *http.Request, submitted string) bool {
	expected, _ := s.cookieSession(r).Values[csrfKeyName].(string)
	if expected == "" || submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) == 1
}

// tokenExpiry reads the exp claim without verifying the signature; the API
// remains the judge of validity. Opaque tokens yield the zero time.
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
