// Package kvstore provides the persistence boundary used by the offset
// tracker, watchers and alert layer: opaque string values under string keys,
// with prefix listing. Structured values are JSON-encoded by callers before
// storing.
package kvstore

// Store is the key/value collaborator contract.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores value under key, creating or replacing it.
	Set(key, value string) error
	// Delete removes key and reports whether it existed.
	Delete(key string) (bool, error)
	// List returns the keys matching prefix, sorted. An empty prefix lists
	// every key.
	List(prefix string) ([]string, error)
}
