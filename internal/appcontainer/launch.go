package appcontainer

import (
	"errors"
	"log/slog"
)

// LaunchRequest describes one sandboxed process.
type LaunchRequest struct {
	CommandLine  string
	Workspace    string
	Capabilities Capabilities

	// Env replaces the child's environment when non-nil. An empty map
	// starts the child with no variables; nil inherits the caller's.
	Env map[string]string
}

// spawnRequest is the fully resolved input of the OS process creation step.
type spawnRequest struct {
	CommandLine  string
	WorkDir      string
	Identity     string
	Capabilities Capabilities
	EnvBlock     []uint16
}

type workspaceGranter interface {
	GrantAccess(path, identity string) error
}

type spawnFunc func(req spawnRequest) (int, error)

// Launcher starts processes bound to the sandbox identity.
type Launcher struct {
	identities *IdentityManager
	grantor    workspaceGranter
	spawn      spawnFunc
	logger     *slog.Logger
}

// LauncherConfig configures a Launcher.
type LauncherConfig struct {
	// Identities supplies the sandbox identity. Required.
	Identities *IdentityManager

	// Grantor permissions the workspace. Defaults to a WorkspaceGrantor.
	Grantor *WorkspaceGrantor

	Logger *slog.Logger
}

// NewLauncher returns a Launcher using the operating system's process
// creation primitive.
func NewLauncher(cfg LauncherConfig) *Launcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	identities := cfg.Identities
	if identities == nil {
		identities = NewIdentityManager(nil, logger)
	}
	var grantor workspaceGranter = cfg.Grantor
	if cfg.Grantor == nil {
		grantor = NewWorkspaceGrantor(logger)
	}
	return &Launcher{
		identities: identities,
		grantor:    grantor,
		spawn:      spawnProcess,
		logger:     logger,
	}
}

// Launch grants the workspace, resolves capabilities and starts the child.
// It returns the new process id. Every failure is a *LaunchError carrying
// the step's Code. The launcher keeps no handle to the child.
func (l *Launcher) Launch(req LaunchRequest) (int, error) {
	if req.CommandLine == "" || req.Workspace == "" {
		return -1, &LaunchError{Code: CodeInvalidArguments, Err: errors.Join(ErrInvalidArguments, errors.New("command line and workspace are required"))}
	}
	envBlock, err := EnvironmentBlock(req.Env)
	if err != nil {
		return -1, &LaunchError{Code: CodeInvalidArguments, Err: err}
	}

	identity, err := l.identities.Ensure()
	if err != nil {
		return -1, &LaunchError{Code: CodeProfileCreationFailed, Err: err}
	}

	if err := l.grantor.GrantAccess(req.Workspace, identity); err != nil {
		return -1, &LaunchError{Code: CodeAclFailure, Err: err}
	}

	pid, err := l.spawn(spawnRequest{
		CommandLine:  req.CommandLine,
		WorkDir:      req.Workspace,
		Identity:     identity,
		Capabilities: req.Capabilities,
		EnvBlock:     envBlock,
	})
	if err != nil {
		code := CodeProcessCreationFailed
		if errors.Is(err, ErrCapability) {
			code = CodeCapabilityError
		}
		return -1, &LaunchError{Code: code, Err: err}
	}

	l.logger.Info("sandboxed process started",
		"pid", pid,
		"workspace", req.Workspace,
		"network", req.Capabilities.AllowNetwork,
		"custom_env", req.Env != nil,
	)
	return pid, nil
}
