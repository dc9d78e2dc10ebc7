// Package safe declares the password-safe collaborator contract: an
// in-memory, time-limited password store keyed by (namespace, key),
// read-only from the coordinator's perspective.
package safe

// Safe is the external password-safe capability.
type Safe interface {
	// Get returns the password for (namespace, key), or "", false if
	// the safe has no live entry (expired or never unlocked).
	Get(namespace, key string) (string, bool)
}
