package service

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/docchain/config"
	"github.com/AnTengye/docchain/model"
)

type cachedUser struct {
	user      model.User
	storedAt  time.Time
	expiresAt time.Time
}

// UserCache remembers which user a bearer token belongs to, so a page
// request does not have to call /auth/me every time. Entries are keyed by
// a hash of the token, never the token itself.
type UserCache struct {
	users    map[string]*cachedUser
	mu       sync.RWMutex
	maxUsers int // 0 = unlimited
	ttl      time.Duration
	now      func() time.Time
}

func NewUserCache(cfg *config.CacheConfig) *UserCache {
	maxUsers := cfg.MaxUsers
	if maxUsers < 0 {
		maxUsers = 0
	}
	slog.Info("user cache initialized", "max_users", maxUsers, "ttl", cfg.TTL)
	return &UserCache{
		users:    make(map[string]*cachedUser),
		maxUsers: maxUsers,
		ttl:      cfg.TTL,
		now:      time.Now,
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Put caches user for token until the cache TTL or tokenExpiry, whichever
// comes first. A zero tokenExpiry means the token carries no expiry.
func (s *UserCache) Put(token string, user model.User, tokenExpiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expiresAt := now.Add(s.ttl)
	if !tokenExpiry.IsZero() && tokenExpiry.Before(expiresAt) {
		expiresAt = tokenExpiry
	}
	s.users[tokenKey(token)] = &cachedUser{user: user, storedAt: now, expiresAt: expiresAt}

	s.cleanupIfNeeded()
}

// Get returns the cached user for token, if present and not expired.
func (s *UserCache) Get(token string) (model.User, bool) {
	key := tokenKey(token)

	s.mu.RLock()
	entry, ok := s.users[key]
	s.mu.RUnlock()
	if !ok {
		return model.User{}, false
	}

	if !s.now().Before(entry.expiresAt) {
		s.Delete(token)
		return model.User{}, false
	}
	return entry.user, true
}

func (s *UserCache) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, tokenKey(token))
}

// cleanupIfNeeded drops expired entries, then the oldest ones beyond maxUsers.
// Must be called with lock held
func (s *UserCache) cleanupIfNeeded() {
	if s.maxUsers <= 0 || len(s.users) <= s.maxUsers {
		return
	}

	now := s.now()
	for key, entry := range s.users {
		if !now.Before(entry.expiresAt) {
			delete(s.users, key)
		}
	}
	if len(s.users) <= s.maxUsers {
		return
	}

	keys := make([]string, 0, len(s.users))
	for key := range s.users {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.users[keys[i]].storedAt.Before(s.users[keys[j]].storedAt)
	})

	removeCount := len(keys) - s.maxUsers
	for i := 0; i < removeCount; i++ {
		slog.Debug("evicting cached user", "email", s.users[keys[i]].user.Email)
		delete(s.users, keys[i])
	}
}

// Count returns the number of cached users.
func (s *UserCache) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
