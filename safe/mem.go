package safe

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// MemSafe is an in-memory reference Safe backed by a
// hashicorp/golang-lru ARC cache, bounded so a misbehaving caller can't
// grow the safe's entry set without limit. Expiry is tracked alongside
// the cached password since the ARC cache itself has no TTL notion.
type MemSafe struct {
	mu      sync.Mutex
	entries *lru.ARCCache
}

type entry struct {
	password string
	expires  time.Time
}

const maxSafeEntries = 256

// NewMemSafe constructs an empty safe.
func NewMemSafe() *MemSafe {
	c, _ := lru.NewARC(maxSafeEntries)
	return &MemSafe{entries: c}
}

func key(namespace, k string) string { return namespace + "\x00" + k }

// Unlock installs a password for (namespace, key) with a TTL.
func (s *MemSafe) Unlock(namespace, k, password string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Add(key(namespace, k), entry{password: password, expires: time.Now().Add(ttl)})
}

// Expire removes a (namespace, key) entry immediately, simulating a
// password safe whose context has timed out.
func (s *MemSafe) Expire(namespace, k string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Remove(key(namespace, k))
}

func (s *MemSafe) Get(namespace, k string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries.Get(key(namespace, k))
	if !ok {
		return "", false
	}
	e := v.(entry)
	if time.Now().After(e.expires) {
		s.entries.Remove(key(namespace, k))
		return "", false
	}
	return e.password, true
}
