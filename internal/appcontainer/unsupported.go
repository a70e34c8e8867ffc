//go:build !windows

package appcontainer

import (
	"errors"
	"fmt"
	"runtime"
)

var errUnsupported = fmt.Errorf("appcontainer sandboxing on %s: %w", runtime.GOOS, errors.ErrUnsupported)

type unsupportedProfiles struct{}

// SystemProfiles returns the AppContainer profile registry of the host.
// Outside Windows every call fails with errors.ErrUnsupported.
func SystemProfiles() ProfileStore {
	return unsupportedProfiles{}
}

func (unsupportedProfiles) Create(string, string, string) (string, error) {
	return "", errUnsupported
}

func (unsupportedProfiles) Derive(string) (string, error) {
	return "", errUnsupported
}

func (unsupportedProfiles) Delete(string) error {
	return errUnsupported
}

func grantWorkspaceAccess(string, string) error {
	return errUnsupported
}

func spawnProcess(spawnRequest) (int, error) {
	return -1, errUnsupported
}

func createPipeEndpoint(string, string) (pipeEndpoint, error) {
	return nil, fmt.Errorf("%w: %w", ErrCreatePipe, errUnsupported)
}

func readAllowedTrustees(string) ([]string, error) {
	return nil, errUnsupported
}

func canonicalIdentity(s string) (string, error) {
	return s, nil
}

func currentUserIdentity() (string, error) {
	return "", errUnsupported
}
