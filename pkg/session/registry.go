// Package session issues and validates the in-process tokens that
// scope mutating device operations to one caller.
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/logger"
)

// DefaultTTL is the session lifetime when the registry is built with
// no explicit timeout.
const DefaultTTL = 5 * time.Minute

// Session is one live authorization record.
type Session struct {
	Token      string
	DeviceID   string
	CreatedAt  time.Time
	LastUsedAt time.Time
	TTL        time.Duration
}

// Registry holds all live sessions for the process. One registry is
// owned by the runtime; tests construct fresh ones.
type Registry struct {
	mu       sync.Mutex
	ttl      time.Duration
	byToken  map[string]*Session
	byDevice map[string]string // deviceId -> token
	now      func() time.Time
}

// NewRegistry builds a registry with the given session TTL.
// ttl <= 0 selects DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:      ttl,
		byToken:  make(map[string]*Session),
		byDevice: make(map[string]string),
		now:      time.Now,
	}
}

// SetClock replaces the registry clock, for expiry tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Create issues a token for deviceId. Fails with ErrSessionActive when
// a live session already exists for the device.
func (r *Registry) Create(deviceID string) (string, error) {
	if deviceID == "" {
		return "", core.ErrArgument.WithMessage("device id must be a non-empty string")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if tok, ok := r.byDevice[deviceID]; ok {
		if s := r.byToken[tok]; s != nil && !r.expiredLocked(s) {
			return "", core.ErrSessionActive.WithDetails(map[string]interface{}{
				"deviceId": deviceID,
			})
		}
		// Expired leftover, clear it.
		r.destroyLocked(tok)
	}

	token := newToken()
	now := r.now()
	s := &Session{
		Token:      token,
		DeviceID:   deviceID,
		CreatedAt:  now,
		LastUsedAt: now,
		TTL:        r.ttl,
	}
	r.byToken[token] = s
	r.byDevice[deviceID] = token

	logger.Debug("session created for device %s", deviceID)
	return token, nil
}

// Validate reports whether token authorizes an operation right now.
// A valid token has its LastUsedAt refreshed; an expired token is
// destroyed, never silently renewed.
func (r *Registry) Validate(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byToken[token]
	if !ok {
		return false
	}
	if r.expiredLocked(s) {
		logger.Debug("session for device %s expired, destroying", s.DeviceID)
		r.destroyLocked(token)
		return false
	}
	s.LastUsedAt = r.now()
	return true
}

// CompareAndValidate checks constant-time equality of expected and
// provided, then validates the provided token.
func (r *Registry) CompareAndValidate(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return false
	}
	return r.Validate(provided)
}

// Destroy removes the session by its token. Idempotent.
func (r *Registry) Destroy(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyLocked(token)
}

// Get returns a copy of the session record for token, if registered.
func (r *Registry) Get(token string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byToken[token]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ActiveForDevice returns the live token for deviceId, if any.
func (r *Registry) ActiveForDevice(deviceID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.byDevice[deviceID]
	if !ok {
		return "", false
	}
	s := r.byToken[tok]
	if s == nil || r.expiredLocked(s) {
		return "", false
	}
	return tok, true
}

// Len returns the number of registered sessions, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}

func (r *Registry) expiredLocked(s *Session) bool {
	return r.now().Sub(s.LastUsedAt) >= s.TTL
}

func (r *Registry) destroyLocked(token string) {
	s, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	if r.byDevice[s.DeviceID] == token {
		delete(r.byDevice, s.DeviceID)
	}
}

// newToken derives a locally collision-resistant token from the
// high-resolution clock plus a random salt. Opaque to callers.
func newToken() string {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		// crypto/rand failing is unrecoverable for token generation
		panic(fmt.Sprintf("session: rand.Read: %v", err))
	}
	return fmt.Sprintf("%x.%s", time.Now().UnixNano(), hex.EncodeToString(salt))
}
