package appcontainer

import (
	"fmt"
	"log/slog"
)

// WorkspaceGrantor gives the sandbox identity inheritable read, write and
// execute access to a directory tree. Existing entries are preserved: the
// new entry is merged into a fresh copy of the access list, which replaces
// the old one in a single set operation.
type WorkspaceGrantor struct {
	logger *slog.Logger
}

// NewWorkspaceGrantor returns a grantor that logs to logger.
func NewWorkspaceGrantor(logger *slog.Logger) *WorkspaceGrantor {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceGrantor{logger: logger}
}

// GrantAccess adds the identity's entry to path's access list. A path that
// does not exist fails with ErrAcl; directories are never created.
func (g *WorkspaceGrantor) GrantAccess(path, identity string) error {
	if path == "" || identity == "" {
		return fmt.Errorf("%w: workspace path and identity are required", ErrInvalidArguments)
	}

	g.logger.Info("granting workspace access", "identity", identity, "path", path)
	if err := grantWorkspaceAccess(path, identity); err != nil {
		return fmt.Errorf("%w: %w", ErrAcl, err)
	}
	g.logger.Debug("workspace access granted", "path", path)
	return nil
}
