//go:build windows

package appcontainer

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	accessAllowedObjectAceType     = 0x05
	aceObjectTypePresent           = 0x1
	aceInheritedObjectTypePresent  = 0x2
	accessAllowedObjectAceSIDStart = 12 // header, mask and flags
	guidSize                       = 16
)

// readAllowedTrustees returns the SIDs named by allow-type entries of
// path's access list, covering simple and object-scoped entries.
func readAllowedTrustees(path string) ([]string, error) {
	var objType windows.SE_OBJECT_TYPE = windows.SE_FILE_OBJECT
	if isPipePath(path) {
		objType = windows.SE_KERNEL_OBJECT
	}

	sd, err := windows.GetNamedSecurityInfo(path, objType, windows.DACL_SECURITY_INFORMATION)
	if err != nil {
		return nil, fmt.Errorf("read access list of %q: %w", path, err)
	}
	dacl, _, err := sd.DACL()
	if err != nil {
		return nil, fmt.Errorf("read access list of %q: %w", path, err)
	}
	if dacl == nil {
		return nil, nil
	}

	var trustees []string
	for i := uint32(0); i < uint32(dacl.AceCount); i++ {
		var ace *windows.ACCESS_ALLOWED_ACE
		if err := windows.GetAce(dacl, i, &ace); err != nil || ace == nil {
			continue
		}
		if sid := allowedSID(ace); sid != nil {
			trustees = append(trustees, sid.String())
		}
	}
	return trustees, nil
}

// allowedSID returns the trustee of an allow-type entry, or nil for any
// other entry type.
func allowedSID(ace *windows.ACCESS_ALLOWED_ACE) *windows.SID {
	switch ace.Header.AceType {
	case windows.ACCESS_ALLOWED_ACE_TYPE:
		return (*windows.SID)(unsafe.Pointer(&ace.SidStart))
	case accessAllowedObjectAceType:
		// The optional object GUIDs sit between the flags and the SID.
		flags := *(*uint32)(unsafe.Add(unsafe.Pointer(ace), 8))
		offset := uintptr(accessAllowedObjectAceSIDStart)
		if flags&aceObjectTypePresent != 0 {
			offset += guidSize
		}
		if flags&aceInheritedObjectTypePresent != 0 {
			offset += guidSize
		}
		return (*windows.SID)(unsafe.Add(unsafe.Pointer(ace), offset))
	}
	return nil
}
