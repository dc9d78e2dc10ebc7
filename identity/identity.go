// Package identity declares the identity-store collaborator contract:
// settings, persisted tasks, and the HD pocket list, plus the
// store-save hook the coordinator calls after mutating pocket/task
// state.
package identity

import (
	"github.com/Kryndex/darkwallet/wallet"
	"github.com/Kryndex/darkwallet/wire"
)

// Settings exposes the user preferences Coordinator/Matchmaker read.
type Settings interface {
	HardMixing() bool
}

// Store is the external identity capability.
type Store interface {
	Settings() Settings

	// Tasks returns the persisted tasks of the given category, in
	// persistence order. The coordinator always requests "mixer".
	Tasks(kind string) []*wire.Task

	// Pockets returns every HD pocket, in index order.
	Pockets() []*wallet.Pocket

	// Save persists the current identity state (tasks, pocket
	// mixingOptions) after a mutation.
	Save() error
}
