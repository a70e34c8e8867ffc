package appkeep

import "github.com/bpicori/appkeep/internal/appcontainer"

// Code is the stable numeric result of a failed launch.
type Code = appcontainer.Code

// Launch failure codes. A successful launch returns a process id >= 0.
const (
	InvalidArguments      = appcontainer.CodeInvalidArguments
	ProfileCreationFailed = appcontainer.CodeProfileCreationFailed
	AclFailure            = appcontainer.CodeAclFailure
	CapabilityError       = appcontainer.CodeCapabilityError
	ProcessCreationFailed = appcontainer.CodeProcessCreationFailed
)

// LaunchError is returned by Launch and Run when process creation fails.
type LaunchError = appcontainer.LaunchError

// AuditResult is the outcome of VerifyAccessList.
type AuditResult = appcontainer.AuditResult

// Channel is a restricted duplex endpoint shared with one sandboxed peer.
type Channel = appcontainer.Channel

// LaunchRequest describes one sandboxed process.
type LaunchRequest = appcontainer.LaunchRequest

// Capabilities selects the optional rights attached to a sandboxed process.
type Capabilities = appcontainer.Capabilities

// RunRequest describes a validated sandboxed launch request as built by the
// command line.
type RunRequest struct {
	Workspace string
	AllowNet  bool

	// Env replaces the child environment when non-nil.
	Env map[string]string

	ShowProfile bool

	Command []string
}

// RunResult contains launch metadata.
type RunResult struct {
	PID              int
	GeneratedProfile string
}
