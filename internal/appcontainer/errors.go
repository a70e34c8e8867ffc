package appcontainer

import (
	"errors"
	"fmt"
)

// Code is the stable numeric outcome of a failed launch. Callers outside
// the process depend on these exact values.
type Code int32

const (
	CodeInvalidArguments      Code = -1
	CodeProfileCreationFailed Code = -2
	CodeAclFailure            Code = -3
	CodeCapabilityError       Code = -4
	CodeProcessCreationFailed Code = -5
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArguments:
		return "invalid arguments"
	case CodeProfileCreationFailed:
		return "profile creation failed"
	case CodeAclFailure:
		return "acl failure"
	case CodeCapabilityError:
		return "capability error"
	case CodeProcessCreationFailed:
		return "process creation failed"
	default:
		return fmt.Sprintf("code %d", int32(c))
	}
}

// Failure kinds. Use errors.Is to check for them.
var (
	ErrInvalidArguments   = errors.New("invalid arguments")
	ErrProfileCreation    = errors.New("sandbox profile creation failed")
	ErrNotFound           = errors.New("sandbox profile not found")
	ErrAcl                = errors.New("access list update failed")
	ErrCapability         = errors.New("capability resolution failed")
	ErrProcessCreation    = errors.New("process creation failed")
	ErrAlreadyListening   = errors.New("channel already listening")
	ErrNotListening       = errors.New("channel not listening")
	ErrNotConnected       = errors.New("channel not connected")
	ErrAlreadyConnected   = errors.New("channel already connected")
	ErrChannelClosed      = errors.New("channel closed")
	ErrSecurityDescriptor = errors.New("failed to build channel security descriptor")
	ErrCreatePipe         = errors.New("failed to create channel endpoint")
)

// ErrProfileExists is returned by ProfileStore.Create when a profile with
// the same name is already registered.
var ErrProfileExists = errors.New("sandbox profile already exists")

// LaunchError is returned by Launcher.Launch. Err carries the OS diagnostic.
type LaunchError struct {
	Code Code
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch sandboxed process: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// CodeOf returns the launch code carried by err. Errors that did not come
// from a launch map to CodeProcessCreationFailed.
func CodeOf(err error) Code {
	var le *LaunchError
	if errors.As(err, &le) {
		return le.Code
	}
	switch {
	case errors.Is(err, ErrInvalidArguments):
		return CodeInvalidArguments
	case errors.Is(err, ErrProfileCreation):
		return CodeProfileCreationFailed
	case errors.Is(err, ErrAcl):
		return CodeAclFailure
	case errors.Is(err, ErrCapability):
		return CodeCapabilityError
	default:
		return CodeProcessCreationFailed
	}
}
