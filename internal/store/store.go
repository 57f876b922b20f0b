package store

import "context"

// Well-known keys persisted by the session layer. The wire values are part of
// the upgrade contract: older installs must keep restoring under these names.
const (
	KeyAuthToken = "auth_token"
	KeyUserData  = "user_data"
)

// Store is a small persisted key-value store. It plays the role the mobile
// platform's async storage plays for the app: surviving process restarts with
// the session token and the cached user profile.
type Store interface {
	// Get returns the value for key, or ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set writes or replaces the value for key.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases underlying resources.
	Close() error
}
