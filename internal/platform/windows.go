//go:build windows

package platform

import (
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"

	"github.com/bpicori/appkeep/internal/appcontainer"
	"github.com/bpicori/appkeep/internal/profile"
)

type windowsPlatform struct {
	identities *appcontainer.IdentityManager
	launcher   *appcontainer.Launcher
	sensitive  []string
}

// New returns the Platform implementation for Windows. identities may be
// shared with other callers so they observe the same cached identity.
func New(identities *appcontainer.IdentityManager, logger *slog.Logger) (Platform, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if identities == nil {
		identities = appcontainer.NewIdentityManager(nil, logger)
	}
	return &windowsPlatform{
		identities: identities,
		launcher: appcontainer.NewLauncher(appcontainer.LauncherConfig{
			Identities: identities,
			Logger:     logger,
		}),
		sensitive: windowsSensitivePaths(),
	}, nil
}

// windowsSensitivePaths lists directories that must never be granted to the
// sandbox. Any workspace that overlaps with these is rejected.
func windowsSensitivePaths() []string {
	systemRoot := envOr("SystemRoot", `C:\Windows`)
	paths := []string{
		systemRoot,
		envOr("ProgramFiles", `C:\Program Files`),
		envOr("ProgramFiles(x86)", `C:\Program Files (x86)`),
		filepath.Join(envOr("ProgramData", `C:\ProgramData`), "Microsoft"),
	}
	if home := os.Getenv("USERPROFILE"); home != "" {
		paths = append(paths,
			filepath.Join(home, ".ssh"),
			filepath.Join(home, "AppData", "Roaming", "Microsoft", "Credentials"),
			filepath.Join(home, "AppData", "Local", "Microsoft", "Credentials"),
			filepath.Join(home, "AppData", "Roaming", "Microsoft", "Protect"),
		)
	}
	return paths
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (w *windowsPlatform) SensitivePaths() []string {
	return w.sensitive
}

func (w *windowsPlatform) GenerateProfile(p *profile.Profile) (string, error) {
	// Rendering must not register anything, so only an existing identity
	// is shown.
	identity, err := w.identities.Get()
	if err != nil {
		identity = ""
	}
	return renderProfile(p, identity, commandLine(p.Command)), nil
}

func (w *windowsPlatform) Launch(p *profile.Profile) (int, error) {
	return w.launcher.Launch(appcontainer.LaunchRequest{
		CommandLine:  commandLine(p.Command),
		Workspace:    p.Workspace,
		Capabilities: appcontainer.Capabilities{AllowNetwork: p.AllowNet},
		Env:          p.Env,
	})
}

// commandLine passes a single argument through verbatim, so callers can hand
// over a preformatted command line. Several arguments are quoted.
func commandLine(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return windows.ComposeCommandLine(args)
}
