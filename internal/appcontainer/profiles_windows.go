//go:build windows

package appcontainer

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

var (
	moduserenv = windows.NewLazySystemDLL("userenv.dll")

	procCreateAppContainerProfile                 = moduserenv.NewProc("CreateAppContainerProfile")
	procDeriveAppContainerSidFromAppContainerName = moduserenv.NewProc("DeriveAppContainerSidFromAppContainerName")
	procDeleteAppContainerProfile                 = moduserenv.NewProc("DeleteAppContainerProfile")
)

// mappingsKey holds one subkey per registered profile, named by its SID.
const mappingsKey = `Software\Classes\Local Settings\Software\Microsoft\Windows\CurrentVersion\AppContainer\Mappings`

// hresult is a COM status code returned by the profile API.
type hresult uint32

const (
	facilityWin32 = 7

	hresultAlreadyExists = hresult(0x80070000 | uint32(windows.ERROR_ALREADY_EXISTS))
	hresultNotFound      = hresult(0x80070000 | uint32(windows.ERROR_NOT_FOUND))
	hresultFileNotFound  = hresult(0x80070000 | uint32(windows.ERROR_FILE_NOT_FOUND))
)

func (h hresult) failed() bool {
	return h&0x80000000 != 0
}

func (h hresult) Error() string {
	if (h>>16)&0x1fff == facilityWin32 {
		return windows.Errno(h & 0xffff).Error()
	}
	return fmt.Sprintf("HRESULT 0x%08X", uint32(h))
}

type systemProfiles struct{}

// SystemProfiles returns the AppContainer profile registry of the host.
func SystemProfiles() ProfileStore {
	return systemProfiles{}
}

func (systemProfiles) Create(name, displayName, description string) (string, error) {
	n, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return "", err
	}
	d, err := windows.UTF16PtrFromString(displayName)
	if err != nil {
		return "", err
	}
	desc, err := windows.UTF16PtrFromString(description)
	if err != nil {
		return "", err
	}
	if err := procCreateAppContainerProfile.Find(); err != nil {
		return "", err
	}

	var sid *windows.SID
	r, _, _ := procCreateAppContainerProfile.Call(
		uintptr(unsafe.Pointer(n)),
		uintptr(unsafe.Pointer(d)),
		uintptr(unsafe.Pointer(desc)),
		0, 0,
		uintptr(unsafe.Pointer(&sid)),
	)
	if hr := hresult(r); hr.failed() {
		if hr == hresultAlreadyExists {
			return "", ErrProfileExists
		}
		return "", fmt.Errorf("CreateAppContainerProfile: %w", hr)
	}
	return takeSID(sid)
}

func (systemProfiles) Derive(name string) (string, error) {
	n, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return "", err
	}
	if err := procDeriveAppContainerSidFromAppContainerName.Find(); err != nil {
		return "", err
	}

	var sid *windows.SID
	r, _, _ := procDeriveAppContainerSidFromAppContainerName.Call(
		uintptr(unsafe.Pointer(n)),
		uintptr(unsafe.Pointer(&sid)),
	)
	if hr := hresult(r); hr.failed() {
		return "", fmt.Errorf("DeriveAppContainerSidFromAppContainerName: %w", hr)
	}
	id, err := takeSID(sid)
	if err != nil {
		return "", err
	}

	// Derivation succeeds for any name; the mapping key shows registration.
	k, err := registry.OpenKey(registry.CURRENT_USER, mappingsKey+`\`+id, registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("look up profile %q: %w", name, err)
	}
	k.Close()
	return id, nil
}

func (systemProfiles) Delete(name string) error {
	n, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}
	if err := procDeleteAppContainerProfile.Find(); err != nil {
		return err
	}

	r, _, _ := procDeleteAppContainerProfile.Call(uintptr(unsafe.Pointer(n)))
	switch hr := hresult(r); {
	case hr == hresultNotFound, hr == hresultFileNotFound:
		return ErrNotFound
	case hr.failed():
		return fmt.Errorf("DeleteAppContainerProfile: %w", hr)
	}
	return nil
}

// takeSID renders an OS-allocated SID as a string and frees it.
func takeSID(sid *windows.SID) (string, error) {
	if sid == nil {
		return "", fmt.Errorf("profile API returned no SID")
	}
	defer windows.FreeSid(sid)
	return sid.String(), nil
}

// canonicalIdentity parses s and renders it in the OS's canonical form.
func canonicalIdentity(s string) (string, error) {
	sid, err := windows.StringToSid(s)
	if err != nil {
		return "", err
	}
	return sid.String(), nil
}

// currentUserIdentity returns the SID of the user owning this process.
func currentUserIdentity() (string, error) {
	sid, err := currentUserSID()
	if err != nil {
		return "", err
	}
	return sid.String(), nil
}

func currentUserSID() (*windows.SID, error) {
	token, err := windows.OpenCurrentProcessToken()
	if err != nil {
		return nil, fmt.Errorf("open process token: %w", err)
	}
	defer token.Close()

	user, err := token.GetTokenUser()
	if err != nil {
		return nil, fmt.Errorf("query token user: %w", err)
	}
	return user.User.Sid.Copy()
}
