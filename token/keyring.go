package token

// Keyring is the slice of the platform secure-storage primitive the store
// needs. The real implementation lives in keyringstore; tests use the
// in-memory fake in storefake.
type Keyring interface {
	// Get returns the stored value for key, or an error when the key is
	// absent or the backend is unavailable.
	Get(key string) (string, error)
	// Set writes key=value. A failed Set must be reported; a half-written
	// session is worse than a failed one.
	Set(key, value string) error
	// Delete removes key. Deleting an absent key may or may not error,
	// depending on the backend; callers treat both the same.
	Delete(key string) error
}
