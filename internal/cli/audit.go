package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bpicori/appkeep/pkg/appkeep"
)

// AuditCmd executes the "audit" subcommand. It exits 1 when the access list
// lacks a required entry.
func AuditCmd(args []string) int {
	fs := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	var sid string
	fs.StringVar(&sid, "sid", "", "Sandbox SID to look for (default: the registered profile's SID)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: appkeep audit [options] <path>\n\n")
		fmt.Fprintf(os.Stderr, "Check that a workspace or pipe grants the sandbox and the current user.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  appkeep audit C:\\agent\\work\n")
		fmt.Fprintf(os.Stderr, "  appkeep audit --sid S-1-15-2-... \\\\.\\pipe\\appkeep-<session>\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	if sid == "" {
		sid = appkeep.GetSandboxIdentity()
		if sid == "" {
			fmt.Fprintf(os.Stderr, "Error: sandbox profile is not registered; pass --sid\n")
			return 1
		}
	}

	result := appkeep.VerifyAccessList(fs.Arg(0), sid)
	fmt.Println(formatAudit(result))
	if !result.OK {
		return 1
	}
	return 0
}

func formatAudit(r appkeep.AuditResult) string {
	status := "ok"
	if !r.OK {
		status = "FAILED"
	}
	line := fmt.Sprintf("%s: %s", status, r.Details)
	if len(r.Missing) > 0 {
		line += fmt.Sprintf(" (missing: %s)", strings.Join(r.Missing, ", "))
	}
	return line
}
