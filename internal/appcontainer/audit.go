package appcontainer

import (
	"fmt"
	"strings"
)

// Names reported in AuditResult.Missing.
const (
	MissingSandbox = "sandbox"
	MissingUser    = "user"
)

// AuditResult is the outcome of VerifyAccessList.
type AuditResult struct {
	OK      bool     `json:"ok"`
	Missing []string `json:"missing,omitempty"`
	Details string   `json:"details"`
}

// VerifyAccessList checks that path's access list grants the sandbox
// identity and, when it can be resolved, the current user. Pipe paths are
// audited as kernel objects, everything else as files. The resource is
// never modified.
func VerifyAccessList(path, sandboxIdentity string) AuditResult {
	if path == "" || sandboxIdentity == "" {
		return AuditResult{Details: "resource path and sandbox identity are required"}
	}

	sandbox, err := canonicalIdentity(sandboxIdentity)
	if err != nil {
		return AuditResult{Details: fmt.Sprintf("invalid sandbox identity %q: %v", sandboxIdentity, err)}
	}

	trustees, err := readAllowedTrustees(path)
	if err != nil {
		return AuditResult{Details: err.Error()}
	}

	// The user entry is only required when the user can be resolved.
	user, err := currentUserIdentity()
	if err != nil {
		user = ""
	}

	return evaluateAudit(trustees, sandbox, user)
}

// evaluateAudit matches the allow-type trustees of an access list against
// the expected identities.
func evaluateAudit(trustees []string, sandbox, user string) AuditResult {
	var sandboxPresent, userPresent bool
	for _, t := range trustees {
		if strings.EqualFold(t, sandbox) {
			sandboxPresent = true
		}
		if user != "" && strings.EqualFold(t, user) {
			userPresent = true
		}
	}

	var missing []string
	if !sandboxPresent {
		missing = append(missing, MissingSandbox)
	}
	if user != "" && !userPresent {
		missing = append(missing, MissingUser)
	}

	if len(missing) > 0 {
		return AuditResult{
			Missing: missing,
			Details: "required access entries missing: " + strings.Join(missing, ", "),
		}
	}
	return AuditResult{OK: true, Details: "access list ok"}
}

func isPipePath(path string) bool {
	p := strings.ToLower(strings.ReplaceAll(path, "/", `\`))
	return strings.HasPrefix(p, `\\.\pipe\`) || strings.HasPrefix(p, `\\?\pipe\`)
}
