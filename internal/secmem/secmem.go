package secmem

import (
	"crypto/subtle"
	"sync"
	"sync/atomic"

	"github.com/nutrikit/client/internal/logging"
)

var log = logging.L("secmem")

// SecureString holds sensitive data (session tokens, the saved login
// secret) with best-effort memory zeroing. Go's GC may copy the backing
// array, so this is defense-in-depth, not a guarantee. Call Zero() in
// sign-out and shutdown paths to overwrite the value in place.
//
// String() returns [REDACTED] to prevent accidental leaking via
// fmt.Stringer. Use Reveal() to get the plaintext value explicitly.
type SecureString struct {
	mu         sync.Mutex
	data       []byte
	zeroed     atomic.Bool
	warnedOnce atomic.Bool
}

// New creates a SecureString from the given string.
func New(s string) *SecureString {
	b := make([]byte, len(s))
	copy(b, s)
	return &SecureString{data: b}
}

// Reveal returns the plaintext value. Use only at the point of actual use
// (e.g. constructing an Authorization header). Returns "" if the receiver
// is nil or the data has been zeroed; logs once after Zero() to aid
// debugging without log spam.
func (s *SecureString) Reveal() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	isZeroed := s.data == nil && s.zeroed.Load()
	val := string(s.data)
	s.mu.Unlock()

	if isZeroed {
		if s.warnedOnce.CompareAndSwap(false, true) {
			log.Warn("Reveal() called after Zero(), secret has been wiped")
		}
		return ""
	}
	return val
}

// Equal compares the held value against other in constant time.
func (s *SecureString) Equal(other string) bool {
	if s == nil {
		return other == ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return subtle.ConstantTimeCompare(s.data, []byte(other)) == 1
}

// IsZeroed returns true if Zero() has been called.
func (s *SecureString) IsZeroed() bool {
	if s == nil {
		return false
	}
	return s.zeroed.Load()
}

// Zero overwrites the held value and marks the string as wiped.
// Safe to call more than once.
func (s *SecureString) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data {
		s.data[i] = 0
	}
	s.data = nil
	s.zeroed.Store(true)
}

// String implements fmt.Stringer without exposing the value.
func (s *SecureString) String() string {
	return "[REDACTED]"
}

// MarshalJSON prevents the value from leaking into serialized payloads.
func (s *SecureString) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
