package appcontainer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Fixed sandbox profile metadata. The profile outlives the process and is
// looked up by ProfileName on every run.
const (
	ProfileName        = "AppKeep_Agent_Sandbox"
	ProfileDisplayName = "AppKeep Agent Runtime"
	ProfileDescription = "Sandboxed environment for appkeep agents"
)

// ProfileStore is the OS registry of sandbox profiles. Identifiers are SID
// strings.
type ProfileStore interface {
	// Create registers a new profile and returns its identifier. It returns
	// ErrProfileExists when the name is already registered.
	Create(name, displayName, description string) (string, error)

	// Derive returns the identifier of a registered profile without
	// registering anything. It returns ErrNotFound when name is not
	// registered.
	Derive(name string) (string, error)

	// Delete removes the profile. It returns ErrNotFound when absent.
	Delete(name string) error
}

// IdentityManager owns the sandbox identifier for the life of the process.
// The identifier is created lazily on the first Ensure and shared by every
// later caller until Destroy.
type IdentityManager struct {
	store  ProfileStore
	logger *slog.Logger

	group singleflight.Group

	// lifecycle serializes registration against deletion.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	identity string
}

// NewIdentityManager returns a manager backed by store. A nil store uses
// the operating system's profile registry.
func NewIdentityManager(store ProfileStore, logger *slog.Logger) *IdentityManager {
	if store == nil {
		store = SystemProfiles()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityManager{store: store, logger: logger}
}

// Ensure returns the cached identifier, registering the profile on first
// use. A profile left behind by an earlier run is adopted by deriving its
// identifier from the name. Concurrent first calls share one registration.
func (m *IdentityManager) Ensure() (string, error) {
	if id := m.cached(); id != "" {
		return id, nil
	}

	v, err, _ := m.group.Do(ProfileName, func() (any, error) {
		m.lifecycle.Lock()
		defer m.lifecycle.Unlock()

		if id := m.cached(); id != "" {
			return id, nil
		}

		id, err := m.store.Create(ProfileName, ProfileDisplayName, ProfileDescription)
		if errors.Is(err, ErrProfileExists) {
			m.logger.Debug("sandbox profile already registered, deriving identity", "profile", ProfileName)
			id, err = m.store.Derive(ProfileName)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrProfileCreation, err)
		}
		if id == "" {
			return "", fmt.Errorf("%w: empty identity for profile %q", ErrProfileCreation, ProfileName)
		}

		m.mu.Lock()
		m.identity = id
		m.mu.Unlock()

		m.logger.Info("sandbox identity ready", "profile", ProfileName, "identity", id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Get returns the identifier of the registered profile without creating or
// caching anything. It fails with ErrNotFound when no profile is registered.
func (m *IdentityManager) Get() (string, error) {
	id, err := m.store.Derive(ProfileName)
	switch {
	case errors.Is(err, ErrNotFound):
		return "", err
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return id, nil
}

// Destroy deletes the profile and clears the cache so the next Ensure
// registers it again. Deleting a profile that does not exist succeeds. A
// registration already in progress completes before the delete.
func (m *IdentityManager) Destroy() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	m.identity = ""
	m.mu.Unlock()

	if err := m.store.Delete(ProfileName); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete sandbox profile %q: %w", ProfileName, err)
	}
	m.logger.Info("sandbox identity deleted", "profile", ProfileName)
	return nil
}

func (m *IdentityManager) cached() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}
