package cli

import (
	"fmt"
	"os"

	"github.com/bpicori/appkeep/pkg/appkeep"
)

// IdentityCmd executes the "identity" subcommand: ensure, show or delete the
// sandbox profile.
func IdentityCmd(args []string) int {
	if len(args) != 1 {
		printIdentityUsage()
		return 2
	}

	switch args[0] {
	case "ensure":
		id, err := appkeep.EnsureIdentity()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(id)
	case "show":
		id := appkeep.GetSandboxIdentity()
		if id == "" {
			fmt.Fprintf(os.Stderr, "Error: sandbox profile is not registered (run \"appkeep identity ensure\")\n")
			return 1
		}
		fmt.Println(id)
	case "delete":
		if err := appkeep.DeleteIdentity(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	case "help", "-h", "--help":
		printIdentityUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown identity command: %s\n\n", args[0])
		printIdentityUsage()
		return 2
	}
	return 0
}

func printIdentityUsage() {
	fmt.Fprintf(os.Stderr, `Usage: appkeep identity <ensure|show|delete>

Manage the AppContainer profile shared by every sandboxed process.

  ensure   Register the profile if needed and print its SID
  show     Print the SID of the registered profile without creating it
  delete   Unregister the profile (succeeds if it is already gone)
`)
}
