package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bpicori/appkeep/internal/cli"
)

func main() {
	fs := pflag.NewFlagSet("appkeep", pflag.ContinueOnError)
	// Subcommands parse their own flags.
	fs.SetInterspersed(false)

	var showHelp bool
	var logLevel string
	fs.BoolVarP(&showHelp, "help", "h", false, "Show help message")
	fs.StringVar(&logLevel, "log-level", "warn", "Diagnostic log level: debug, info, warn or error")
	fs.Usage = printUsage

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if showHelp {
		printUsage()
		return
	}

	logger, err := cli.NewLogger(os.Stderr, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	args := fs.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "run":
		os.Exit(cli.RunCmd(args[1:]))
	case "identity":
		os.Exit(cli.IdentityCmd(args[1:]))
	case "audit":
		os.Exit(cli.AuditCmd(args[1:]))
	case "broker":
		os.Exit(cli.BrokerCmd(args[1:]))
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `appkeep - AppContainer sandbox for AI agents

Usage:
  appkeep [--log-level LEVEL] <command> [options]

Commands:
  run       Start a command inside the sandbox and print its process id
  identity  Ensure, show or delete the sandbox profile
  audit     Check that a workspace or pipe grants the sandbox
  broker    Serve the broker protocol to a sandboxed peer
  help      Show this help message

Supported platforms: Windows 10 and later (AppContainer)

Run "appkeep <command> --help" for details on a command.
`)
}
