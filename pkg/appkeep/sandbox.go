// Package appkeep launches processes inside a Windows AppContainer sandbox
// and wires them to the supervisor through a restricted channel.
//
// The sandbox identity is process-wide: every function in this package
// shares one lazily initialized IdentityManager.
package appkeep

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/bpicori/appkeep/internal/appcontainer"
)

var identities = sync.OnceValue(func() *appcontainer.IdentityManager {
	return appcontainer.NewIdentityManager(nil, slog.Default())
})

var launcher = sync.OnceValue(func() *appcontainer.Launcher {
	return appcontainer.NewLauncher(appcontainer.LauncherConfig{
		Identities: identities(),
		Logger:     slog.Default(),
	})
})

// Launch grants the workspace to the sandbox identity and starts the
// command in it. Failures are *appcontainer.LaunchError values; use CodeOf
// for the numeric code.
func Launch(req LaunchRequest) (int, error) {
	return launcher().Launch(req)
}

// CodeOf returns the launch code carried by err.
func CodeOf(err error) Code {
	return appcontainer.CodeOf(err)
}

// CreateSandboxedProcess starts commandLine in the sandbox with workspace as
// its working directory. It returns the process id, or a negative Code.
func CreateSandboxedProcess(commandLine, workspace string, enableNetwork bool) int {
	return launchCode(LaunchRequest{
		CommandLine:  commandLine,
		Workspace:    workspace,
		Capabilities: Capabilities{AllowNetwork: enableNetwork},
	})
}

// CreateSandboxedProcessWithEnv is CreateSandboxedProcess with an explicit
// environment. An empty or nil map starts the child with no variables at
// all.
func CreateSandboxedProcessWithEnv(commandLine, workspace string, enableNetwork bool, env map[string]string) int {
	if env == nil {
		env = map[string]string{}
	}
	return launchCode(LaunchRequest{
		CommandLine:  commandLine,
		Workspace:    workspace,
		Capabilities: Capabilities{AllowNetwork: enableNetwork},
		Env:          maps.Clone(env),
	})
}

func launchCode(req LaunchRequest) int {
	pid, err := Launch(req)
	if err != nil {
		return int(CodeOf(err))
	}
	return pid
}

// EnsureIdentity registers the sandbox profile if needed and returns its
// identity.
func EnsureIdentity() (string, error) {
	return identities().Ensure()
}

// EnsureSandboxIdentity is EnsureIdentity returning "" on failure.
func EnsureSandboxIdentity() string {
	id, err := EnsureIdentity()
	if err != nil {
		slog.Default().Debug("ensure sandbox identity failed", "error", err)
		return ""
	}
	return id
}

// GetSandboxIdentity returns the identity of an already registered profile,
// or "" if none can be derived. It never registers a profile.
func GetSandboxIdentity() string {
	id, err := identities().Get()
	if err != nil {
		return ""
	}
	return id
}

// DeleteIdentity unregisters the sandbox profile and drops the cached
// identity. An absent profile is not an error.
func DeleteIdentity() error {
	return identities().Destroy()
}

// DeleteSandboxIdentity is DeleteIdentity reporting success as a bool.
func DeleteSandboxIdentity() bool {
	if err := DeleteIdentity(); err != nil {
		slog.Default().Debug("delete sandbox identity failed", "error", err)
		return false
	}
	return true
}

// NewChannel returns an idle channel at path admitting only identity and
// the current user.
func NewChannel(path, identity string) (*Channel, error) {
	return appcontainer.NewChannel(appcontainer.ChannelConfig{
		Path:     path,
		Identity: identity,
		Logger:   slog.Default(),
	})
}

// VerifyAccessList reports whether path grants the sandbox identity and the
// current user. It never modifies the resource.
func VerifyAccessList(path, identity string) AuditResult {
	return appcontainer.VerifyAccessList(path, identity)
}
