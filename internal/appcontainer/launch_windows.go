//go:build windows

package appcontainer

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

// procThreadAttributeSecurityCapabilities is PROC_THREAD_ATTRIBUTE_SECURITY_CAPABILITIES.
const procThreadAttributeSecurityCapabilities = 0x00020009

// securityCapabilities mirrors SECURITY_CAPABILITIES.
type securityCapabilities struct {
	AppContainerSid *windows.SID
	Capabilities    *windows.SIDAndAttributes
	CapabilityCount uint32
	Reserved        uint32
}

// resolveCapabilities converts the requested capabilities into enabled SID
// entries. SIDs are Go-owned copies, so nothing leaks on an early return.
func resolveCapabilities(c Capabilities) ([]windows.SIDAndAttributes, error) {
	names := c.SIDs()
	out := make([]windows.SIDAndAttributes, 0, len(names))
	for _, name := range names {
		sid, err := windows.StringToSid(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCapability, name, err)
		}
		out = append(out, windows.SIDAndAttributes{Sid: sid, Attributes: windows.SE_GROUP_ENABLED})
	}
	return out, nil
}

func spawnProcess(req spawnRequest) (int, error) {
	appSID, err := windows.StringToSid(req.Identity)
	if err != nil {
		return -1, fmt.Errorf("%w: parse identity %q: %w", ErrProcessCreation, req.Identity, err)
	}

	caps, err := resolveCapabilities(req.Capabilities)
	if err != nil {
		return -1, err
	}

	secCaps := &securityCapabilities{
		AppContainerSid: appSID,
		CapabilityCount: uint32(len(caps)),
	}
	if len(caps) > 0 {
		secCaps.Capabilities = &caps[0]
	}

	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		return -1, fmt.Errorf("%w: allocate attribute list: %w", ErrProcessCreation, err)
	}
	defer attrs.Delete()

	err = attrs.Update(procThreadAttributeSecurityCapabilities, unsafe.Pointer(secCaps), unsafe.Sizeof(*secCaps))
	if err != nil {
		return -1, fmt.Errorf("%w: set security capabilities: %w", ErrProcessCreation, err)
	}

	cmdLine, err := windows.UTF16FromString(req.CommandLine)
	if err != nil {
		return -1, fmt.Errorf("%w: command line: %w", ErrProcessCreation, err)
	}
	dir, err := windows.UTF16PtrFromString(req.WorkDir)
	if err != nil {
		return -1, fmt.Errorf("%w: working directory: %w", ErrProcessCreation, err)
	}

	flags := uint32(windows.EXTENDED_STARTUPINFO_PRESENT | windows.CREATE_NEW_CONSOLE)
	var env *uint16
	if req.EnvBlock != nil {
		flags |= windows.CREATE_UNICODE_ENVIRONMENT
		env = &req.EnvBlock[0]
	}

	si := &windows.StartupInfoEx{ProcThreadAttributeList: attrs.List()}
	si.Cb = uint32(unsafe.Sizeof(*si))

	var pi windows.ProcessInformation
	err = windows.CreateProcess(nil, &cmdLine[0], nil, nil, false, flags, env, dir, &si.StartupInfo, &pi)
	runtime.KeepAlive(secCaps)
	runtime.KeepAlive(caps)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrProcessCreation, err)
	}

	windows.CloseHandle(pi.Thread)
	windows.CloseHandle(pi.Process)
	return int(pi.ProcessId), nil
}
