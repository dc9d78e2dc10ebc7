package safe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnlockAndGet(t *testing.T) {
	s := NewMemSafe()
	_, ok := s.Get("mixer", "pocket:0")
	assert.False(t, ok)

	s.Unlock("mixer", "pocket:0", "hunter2", time.Minute)
	pw, ok := s.Get("mixer", "pocket:0")
	assert.True(t, ok)
	assert.Equal(t, "hunter2", pw)
}

func TestEntryExpires(t *testing.T) {
	s := NewMemSafe()
	s.Unlock("mixer", "pocket:0", "hunter2", time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	_, ok := s.Get("mixer", "pocket:0")
	assert.False(t, ok)
}

func TestExpireRemovesImmediately(t *testing.T) {
	s := NewMemSafe()
	s.Unlock("send", "deadbeef", "hunter2", time.Hour)
	s.Expire("send", "deadbeef")

	_, ok := s.Get("send", "deadbeef")
	assert.False(t, ok)
}

func TestNamespacesAreIndependent(t *testing.T) {
	s := NewMemSafe()
	s.Unlock("mixer", "pocket:0", "a", time.Hour)
	s.Unlock("send", "pocket:0", "b", time.Hour)

	pw, _ := s.Get("mixer", "pocket:0")
	assert.Equal(t, "a", pw)
	pw, _ = s.Get("send", "pocket:0")
	assert.Equal(t, "b", pw)
}
