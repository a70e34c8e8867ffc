//go:build windows

package appcontainer

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const workspaceAccess = windows.GENERIC_READ | windows.GENERIC_WRITE | windows.GENERIC_EXECUTE

func grantWorkspaceAccess(path, identity string) error {
	sid, err := windows.StringToSid(identity)
	if err != nil {
		return fmt.Errorf("parse identity %q: %w", identity, err)
	}

	sd, err := windows.GetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION)
	if err != nil {
		return fmt.Errorf("read access list of %q: %w", path, err)
	}
	current, _, err := sd.DACL()
	if err != nil {
		return fmt.Errorf("read access list of %q: %w", path, err)
	}

	entry := windows.EXPLICIT_ACCESS{
		AccessPermissions: workspaceAccess,
		AccessMode:        windows.GRANT_ACCESS,
		Inheritance:       windows.SUB_CONTAINERS_AND_OBJECTS_INHERIT,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_WELL_KNOWN_GROUP,
			TrusteeValue: windows.TrusteeValueFromSID(sid),
		},
	}

	// ACLFromEntries builds a new list; current is left untouched until the
	// single set call below swaps it in.
	merged, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{entry}, current)
	if err != nil {
		return fmt.Errorf("merge access list of %q: %w", path, err)
	}

	err = windows.SetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION, nil, nil, merged, nil)
	if err != nil {
		return fmt.Errorf("apply access list to %q: %w", path, err)
	}
	return nil
}
