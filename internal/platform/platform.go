package platform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bpicori/appkeep/internal/appcontainer"
	"github.com/bpicori/appkeep/internal/profile"
)

// Platform abstracts OS-specific sandbox behaviour.
type Platform interface {
	// SensitivePaths returns paths that must never be granted sandbox access
	// on this platform. Used during profile validation.
	SensitivePaths() []string

	// GenerateProfile renders the launch specification without creating
	// anything. Used by --show-profile.
	GenerateProfile(p *profile.Profile) (string, error)

	// Launch starts the command in the sandbox and returns its process id.
	// It does not wait for the process to exit.
	Launch(p *profile.Profile) (int, error)
}

// renderProfile formats a validated profile as key=value lines. identity is
// empty when the sandbox profile is not registered yet.
func renderProfile(p *profile.Profile, identity, commandLine string) string {
	var sb strings.Builder
	sb.WriteString("# appkeep windows profile\n")
	sb.WriteString("engine=appcontainer\n")
	fmt.Fprintf(&sb, "profile=%s\n", appcontainer.ProfileName)
	if identity == "" {
		sb.WriteString("identity=(unregistered)\n")
	} else {
		fmt.Fprintf(&sb, "identity=%s\n", identity)
	}

	fmt.Fprintf(&sb, "workspace=%s\n", p.Workspace)
	sb.WriteString("workspace.access=read,write,execute\n")
	sb.WriteString("workspace.inherit=containers,objects\n")

	caps := appcontainer.Capabilities{AllowNetwork: p.AllowNet}
	if p.AllowNet {
		sb.WriteString("network=allow\n")
	} else {
		sb.WriteString("network=deny\n")
	}
	for _, sid := range caps.SIDs() {
		fmt.Fprintf(&sb, "capability=%s\n", sid)
	}

	switch {
	case p.Env == nil:
		sb.WriteString("env=inherit\n")
	case len(p.Env) == 0:
		sb.WriteString("env=empty\n")
	default:
		keys := make([]string, 0, len(p.Env))
		for k := range p.Env {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return strings.ToUpper(keys[i]) < strings.ToUpper(keys[j])
		})
		sb.WriteString("env=explicit\n")
		// Values are omitted; they routinely carry secrets.
		for _, k := range keys {
			fmt.Fprintf(&sb, "env.key=%s\n", k)
		}
	}

	fmt.Fprintf(&sb, "command=%s\n", commandLine)
	return sb.String()
}
