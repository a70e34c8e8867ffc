package profile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testSensitivePaths is used by tests. The entries are absolute on the host
// running the tests so overlap checks behave the same everywhere.
var testSensitivePaths = func() []string {
	root := filepath.VolumeName(os.TempDir()) + string(filepath.Separator)
	return []string{
		filepath.Join(root, "Windows"),
		filepath.Join(root, "Windows", "System32"),
		filepath.Join(root, "etc", "shadow"),
		filepath.Join(root, "etc", "passwd"),
	}
}()

func validProfile(t *testing.T) *Profile {
	t.Helper()
	return &Profile{
		Workspace: t.TempDir(),
		Command:   []string{"cmd.exe", "/c", "echo", "hello"},
	}
}

func TestValidate_EmptyCommand(t *testing.T) {
	p := validProfile(t)
	p.Command = nil
	err := p.Validate(testSensitivePaths)
	if err == nil {
		t.Fatal("expected error for empty command")
	}
	if !strings.Contains(err.Error(), "command must not be empty") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_BlankCommand(t *testing.T) {
	p := validProfile(t)
	p.Command = []string{"  "}
	if err := p.Validate(testSensitivePaths); err == nil {
		t.Fatal("expected error for blank command")
	}
}

func TestValidate_MinimalValid(t *testing.T) {
	p := validProfile(t)
	if err := p.Validate(testSensitivePaths); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_WorkspaceRequired(t *testing.T) {
	p := validProfile(t)
	p.Workspace = ""
	err := p.Validate(testSensitivePaths)
	if !errors.Is(err, ErrPathEmpty) {
		t.Fatalf("expected ErrPathEmpty, got %v", err)
	}
}

func TestValidate_RelativeWorkspace(t *testing.T) {
	p := validProfile(t)
	p.Workspace = filepath.Join("relative", "path")
	err := p.Validate(testSensitivePaths)
	if !errors.Is(err, ErrPathNotAbsolute) {
		t.Fatalf("expected ErrPathNotAbsolute, got %v", err)
	}
}

func TestValidate_ControlCharInWorkspace(t *testing.T) {
	p := validProfile(t)
	p.Workspace = filepath.Join(p.Workspace, "evil\x00path")
	err := p.Validate(testSensitivePaths)
	if !errors.Is(err, ErrPathControlChar) {
		t.Fatalf("expected ErrPathControlChar, got %v", err)
	}
}

func TestValidate_SensitiveWorkspace(t *testing.T) {
	for _, sp := range testSensitivePaths {
		p := validProfile(t)
		p.Workspace = sp
		err := p.Validate(testSensitivePaths)
		if !errors.Is(err, ErrPathSensitive) {
			t.Fatalf("expected ErrPathSensitive for %q, got %v", sp, err)
		}
	}
}

func TestValidate_SensitiveChildWorkspace(t *testing.T) {
	p := validProfile(t)
	p.Workspace = filepath.Join(testSensitivePaths[0], "Temp", "agent")
	if err := p.Validate(testSensitivePaths); !errors.Is(err, ErrPathSensitive) {
		t.Fatalf("expected ErrPathSensitive, got %v", err)
	}
}

func TestValidate_SensitiveParentWorkspace(t *testing.T) {
	// Granting the volume root would transitively expose every sensitive path.
	p := validProfile(t)
	p.Workspace = filepath.VolumeName(os.TempDir()) + string(filepath.Separator)
	if err := p.Validate(testSensitivePaths); !errors.Is(err, ErrPathSensitive) {
		t.Fatalf("expected ErrPathSensitive, got %v", err)
	}
}

func TestValidate_WorkspaceNotDirectory(t *testing.T) {
	p := validProfile(t)
	file := filepath.Join(p.Workspace, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	p.Workspace = file

	err := p.Validate(testSensitivePaths)
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Fatalf("expected not-a-directory error, got %v", err)
	}
}

func TestValidate_WorkspaceDoesNotExist(t *testing.T) {
	p := validProfile(t)
	p.Workspace = filepath.Join(p.Workspace, "missing")
	if err := p.Validate(testSensitivePaths); err == nil {
		t.Fatal("expected error for nonexistent workspace")
	}
}

func TestValidate_WorkspaceSymlinkResolved(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")

	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	resolvedTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatal(err)
	}

	p := &Profile{Workspace: link, Command: []string{"dir"}}
	if err := p.Validate(testSensitivePaths); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Workspace != resolvedTarget {
		t.Fatalf("expected resolved path %q, got %q", resolvedTarget, p.Workspace)
	}
}

func TestValidate_Env(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"nil inherits", nil, false},
		{"empty clears", map[string]string{}, false},
		{"plain", map[string]string{"APPKEEP": "1", "EMPTY": ""}, false},
		{"drive entry", map[string]string{"=C:": `C:\work`}, false},
		{"empty name", map[string]string{"": "x"}, true},
		{"equals in name", map[string]string{"A=B": "x"}, true},
		{"nul in name", map[string]string{"A\x00": "x"}, true},
		{"nul in value", map[string]string{"A": "x\x00y"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile(t)
			p.Env = tt.env
			err := p.Validate(testSensitivePaths)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	p := &Profile{
		Workspace: "relative",
		Env:       map[string]string{"": "x"},
	}
	err := p.Validate(testSensitivePaths)
	if err == nil {
		t.Fatal("expected errors")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "command must not be empty") {
		t.Fatalf("missing command error in: %v", errStr)
	}
	if !strings.Contains(errStr, "path must be absolute") {
		t.Fatalf("missing absolute-path error in: %v", errStr)
	}
	if !errors.Is(err, ErrEnvKey) {
		t.Fatalf("missing env error in: %v", errStr)
	}
}

func TestPathOverlaps(t *testing.T) {
	sep := string(filepath.Separator)
	root := filepath.VolumeName(os.TempDir()) + sep
	j := func(parts ...string) string { return filepath.Join(append([]string{root}, parts...)...) }

	tests := []struct {
		a, b string
		want bool
	}{
		{j("Windows"), j("Windows"), true},
		{j("Windows"), j("Windows", "System32"), true},
		{j("Windows", "System32"), j("Windows"), true},
		{j("work"), j("Windows"), false},
		{j("tmp", "foo"), j("tmp", "foobar"), false}, // not a directory prefix
		{j("tmp", "foo"), j("tmp", "foo", "bar"), true},
		{root, j("Windows"), true},
	}
	for _, tt := range tests {
		if got := pathOverlaps(tt.a, tt.b); got != tt.want {
			t.Errorf("pathOverlaps(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
