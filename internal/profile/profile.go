package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
)

// Path validation errors. Use errors.Is to check for them.
var (
	ErrPathEmpty       = errors.New("path must not be empty")
	ErrPathControlChar = errors.New("path contains control character")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathDotDot      = errors.New("path must not contain '..' components")
	ErrPathSensitive   = errors.New("path overlaps with sensitive path")
	ErrEnvKey          = errors.New("invalid environment variable name")
)

// Profile holds the parsed, validated launch configuration.
// It is platform-agnostic; the platform layer turns it into a sandboxed
// process.
type Profile struct {
	// Workspace is the one directory the sandbox may read, write and execute.
	Workspace string

	// AllowNet attaches the internet and private network capabilities.
	AllowNet bool

	// Env replaces the child environment when non-nil. A nil map means the
	// child inherits the caller's environment; an empty map means none.
	Env map[string]string

	ShowProfile bool

	Command []string
}

// Validate checks the profile for logical consistency and ensures the
// workspace is an absolute, existing directory that does not overlap with
// the given sensitive system paths. sensitivePaths is platform-specific
// (e.g. from Platform.SensitivePaths()). It returns a combined error of
// every issue found.
func (p *Profile) Validate(sensitivePaths []string) error {
	var errs []error

	if len(p.Command) == 0 || strings.TrimSpace(strings.Join(p.Command, "")) == "" {
		errs = append(errs, errors.New("command must not be empty"))
	}

	if p.Workspace == "" {
		errs = append(errs, fmt.Errorf("workspace: %w", ErrPathEmpty))
	} else {
		resolved, err := resolveAndValidatePath(p.Workspace, sensitivePaths)
		if err != nil {
			errs = append(errs, fmt.Errorf("workspace %q: %w", p.Workspace, err))
		} else {
			p.Workspace = resolved
			info, err := os.Stat(resolved)
			if err != nil {
				errs = append(errs, fmt.Errorf("workspace %q: %w", resolved, err))
			} else if !info.IsDir() {
				errs = append(errs, fmt.Errorf("workspace %q is not a directory", resolved))
			}
		}
	}

	for _, key := range sortedKeys(p.Env) {
		if err := validateEnvEntry(key, p.Env[key]); err != nil {
			errs = append(errs, fmt.Errorf("env %q: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

// resolveAndValidatePath ensures a path is absolute, resolves symlinks, and validates the path
func resolveAndValidatePath(raw string, sensitivePaths []string) (string, error) {
	if raw == "" {
		return "", ErrPathEmpty
	}

	// Reject control characters, like null bytes or backspace, tabs etc.
	for _, c := range raw {
		if c < 0x20 || c == 0x7f {
			return "", fmt.Errorf("%w (0x%02x)", ErrPathControlChar, c)
		}
	}

	if !filepath.IsAbs(raw) {
		return "", ErrPathNotAbsolute
	}

	// Clean the path and reject remaining ".." components.
	cleaned := filepath.Clean(raw)
	if slices.Contains(strings.Split(cleaned, string(filepath.Separator)), "..") {
		return "", ErrPathDotDot
	}

	// Junctions and symlinks are followed so the grant lands on the real
	// directory. An unresolvable path is checked as written.
	resolved, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		resolved = cleaned
	}

	if err := checkSensitivePath(resolved, sensitivePaths); err != nil {
		return "", err
	}

	return resolved, nil
}

// checkSensitivePath returns an error if the given resolved path equals,
// contains, or is a child of any entry in sensitivePaths.
func checkSensitivePath(resolved string, sensitivePaths []string) error {
	for _, sensitive := range sensitivePaths {
		if pathOverlaps(resolved, sensitive) {
			return fmt.Errorf("%w %q", ErrPathSensitive, sensitive)
		}
	}
	return nil
}

// validateEnvEntry rejects names the OS environment block cannot carry.
// A leading '=' is allowed for the per-drive "=C:" entries.
func validateEnvEntry(key, value string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty name", ErrEnvKey)
	case strings.Contains(key[1:], "="):
		return fmt.Errorf("%w: contains '='", ErrEnvKey)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: contains NUL", ErrEnvKey)
	case strings.ContainsRune(value, 0):
		return errors.New("value contains NUL")
	}
	return nil
}

// pathOverlaps reports whether a and b are equal, or one is a prefix of
// the other. Windows paths compare case-insensitively.
// example: C:\Windows and C:\Windows\System32 are overlapping
func pathOverlaps(a, b string) bool {
	a = filepath.Clean(a)
	b = filepath.Clean(b)
	if runtime.GOOS == "windows" {
		a = strings.ToLower(a)
		b = strings.ToLower(b)
	}

	if a == b {
		return true
	}

	aSlash := strings.TrimSuffix(a, string(filepath.Separator)) + string(filepath.Separator)
	bSlash := strings.TrimSuffix(b, string(filepath.Separator)) + string(filepath.Separator)
	return strings.HasPrefix(aSlash, bSlash) || strings.HasPrefix(bSlash, aSlash)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
