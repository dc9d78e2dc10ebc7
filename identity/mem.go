package identity

import (
	"sync"

	"github.com/Kryndex/darkwallet/wallet"
	"github.com/Kryndex/darkwallet/wire"
)

type memSettings struct {
	mu         sync.Mutex
	hardMixing bool
	explicit   bool
}

func (s *memSettings) HardMixing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardMixing
}

// SetHardMixing lets tests (and the CLI) set the fallback-disable
// preference explicitly, marking it as no longer open to a default.
func (s *memSettings) SetHardMixing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardMixing = v
	s.explicit = true
}

func (s *memSettings) setDefault(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardMixing = v
}

// MemStore is an in-memory reference Store.
type MemStore struct {
	mu       sync.Mutex
	settings *memSettings
	tasks    []*wire.Task
	wallet   *wallet.MemWallet
	saves    int
}

// NewMemStore constructs an empty identity store over w.
func NewMemStore(w *wallet.MemWallet) *MemStore {
	return &MemStore{settings: &memSettings{}, wallet: w}
}

func (s *MemStore) Settings() Settings { return s.settings }

// SetHardMixing is a test/CLI helper reaching through to the
// underlying settings implementation.
func (s *MemStore) SetHardMixing(v bool) { s.settings.SetHardMixing(v) }

// ApplyHardMixingDefault seeds the hard-mixing preference from def
// unless it was already set explicitly (by the CLI flag or, for a
// persistence-backed Store, whatever the user last saved).
func (s *MemStore) ApplyHardMixingDefault(def bool) {
	s.settings.mu.Lock()
	explicit := s.settings.explicit
	s.settings.mu.Unlock()
	if !explicit {
		s.settings.setDefault(def)
	}
}

// AddTask registers a persisted task.
func (s *MemStore) AddTask(t *wire.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

// Tasks returns the persisted tasks of the given category. This store
// only ever holds mixer tasks, so any other kind returns nothing.
func (s *MemStore) Tasks(kind string) []*wire.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind != "mixer" {
		return nil
	}
	out := make([]*wire.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

func (s *MemStore) Pockets() []*wallet.Pocket {
	return s.wallet.Pockets()
}

func (s *MemStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

// Saves reports how many times Save was called, for test assertions.
func (s *MemStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
