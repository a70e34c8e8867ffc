//go:build windows

package appcontainer

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	pipeAccessDuplex          = 0x00000003
	pipeTypeMessage           = 0x00000004
	pipeReadmodeMessage       = 0x00000002
	pipeWait                  = 0x00000000
	pipeRejectRemoteClients   = 0x00000008
	fileFlagFirstPipeInstance = 0x00080000

	channelAccess = windows.GENERIC_READ | windows.GENERIC_WRITE
)

// namedPipe is a single-instance, message mode named pipe server handle
// driven with overlapped I/O so Close can cancel blocked calls.
type namedPipe struct {
	handle windows.Handle

	mu     sync.Mutex
	closed bool

	// served is set once a peer has been accepted; the instance must be
	// disconnected before it can accept again.
	served atomic.Bool
}

func createPipeEndpoint(path, identity string) (pipeEndpoint, error) {
	sa, err := channelSecurityAttributes(identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecurityDescriptor, err)
	}

	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreatePipe, err)
	}

	h, err := windows.CreateNamedPipe(
		name,
		pipeAccessDuplex|windows.FILE_FLAG_OVERLAPPED|fileFlagFirstPipeInstance,
		pipeTypeMessage|pipeReadmodeMessage|pipeWait|pipeRejectRemoteClients,
		1,
		BufferSize,
		BufferSize,
		0,
		sa,
	)
	runtime.KeepAlive(sa)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCreatePipe, path, err)
	}
	return &namedPipe{handle: h}, nil
}

// channelSecurityAttributes builds a descriptor whose access list grants
// read and write to the sandbox identity and, when resolvable, the current
// user. Nobody else is listed.
func channelSecurityAttributes(identity string) (*windows.SecurityAttributes, error) {
	appSID, err := windows.StringToSid(identity)
	if err != nil {
		return nil, fmt.Errorf("parse identity %q: %w", identity, err)
	}

	entries := []windows.EXPLICIT_ACCESS{channelEntry(appSID, windows.TRUSTEE_IS_WELL_KNOWN_GROUP)}
	if userSID, err := currentUserSID(); err == nil {
		entries = append(entries, channelEntry(userSID, windows.TRUSTEE_IS_USER))
	}

	acl, err := windows.ACLFromEntries(entries, nil)
	if err != nil {
		return nil, fmt.Errorf("build access list: %w", err)
	}
	sd, err := windows.NewSecurityDescriptor()
	if err != nil {
		return nil, fmt.Errorf("initialize security descriptor: %w", err)
	}
	if err := sd.SetDACL(acl, true, false); err != nil {
		return nil, fmt.Errorf("attach access list: %w", err)
	}

	sa := &windows.SecurityAttributes{SecurityDescriptor: sd}
	sa.Length = uint32(unsafe.Sizeof(*sa))
	return sa, nil
}

func channelEntry(sid *windows.SID, kind windows.TRUSTEE_TYPE) windows.EXPLICIT_ACCESS {
	return windows.EXPLICIT_ACCESS{
		AccessPermissions: channelAccess,
		AccessMode:        windows.GRANT_ACCESS,
		Inheritance:       windows.NO_INHERITANCE,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  kind,
			TrusteeValue: windows.TrusteeValueFromSID(sid),
		},
	}
}

func (p *namedPipe) Connect() error {
	if p.served.Load() {
		// A previous peer left; reset the instance before waiting again.
		_ = windows.DisconnectNamedPipe(p.handle)
	}
	_, err := p.overlapped(func(ov *windows.Overlapped) error {
		return windows.ConnectNamedPipe(p.handle, ov)
	})
	if errors.Is(err, windows.ERROR_PIPE_CONNECTED) {
		err = nil
	}
	if err != nil {
		return err
	}
	p.served.Store(true)
	return nil
}

func (p *namedPipe) Read(b []byte) (int, error) {
	n, err := p.overlapped(func(ov *windows.Overlapped) error {
		var done uint32
		return windows.ReadFile(p.handle, b, &done, ov)
	})
	switch {
	case errors.Is(err, windows.ERROR_MORE_DATA):
		return int(n), errMoreData
	case errors.Is(err, windows.ERROR_BROKEN_PIPE), errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED):
		return int(n), io.EOF
	}
	return int(n), err
}

func (p *namedPipe) Write(b []byte) (int, error) {
	n, err := p.overlapped(func(ov *windows.Overlapped) error {
		var done uint32
		return windows.WriteFile(p.handle, b, &done, ov)
	})
	return int(n), err
}

func (p *namedPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	// Wake any call blocked on the handle before releasing it.
	_ = windows.CancelIoEx(p.handle, nil)
	return windows.CloseHandle(p.handle)
}

// overlapped issues op with a fresh event and waits for its completion.
func (p *namedPipe) overlapped(op func(ov *windows.Overlapped) error) (uint32, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, ErrChannelClosed
	}

	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(ev)

	ov := &windows.Overlapped{HEvent: ev}
	err = op(ov)
	switch {
	case err == nil, errors.Is(err, windows.ERROR_IO_PENDING), errors.Is(err, windows.ERROR_MORE_DATA):
	default:
		return 0, err
	}

	var n uint32
	err = windows.GetOverlappedResult(p.handle, ov, &n, true)
	return n, err
}
