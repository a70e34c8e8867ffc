//go:build windows

package platform

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/bpicori/appkeep/internal/appcontainer"
	"github.com/bpicori/appkeep/internal/profile"
)

// staticProfiles reports a single profile as registered when id is set.
type staticProfiles struct {
	id string
}

func (s staticProfiles) Create(string, string, string) (string, error) {
	return "", appcontainer.ErrProfileExists
}

func (s staticProfiles) Derive(string) (string, error) {
	if s.id == "" {
		return "", appcontainer.ErrNotFound
	}
	return s.id, nil
}

func (s staticProfiles) Delete(string) error {
	return nil
}

func TestGenerateProfile_Identity(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"unregistered", "", "identity=(unregistered)\n"},
		{"registered", "S-1-15-2-7-8-9", "identity=S-1-15-2-7-8-9\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(appcontainer.NewIdentityManager(staticProfiles{id: tt.id}, logger), logger)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			out, err := p.GenerateProfile(&profile.Profile{Workspace: `C:\work`, Command: []string{"cmd"}})
			if err != nil {
				t.Fatalf("GenerateProfile: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Fatalf("profile missing %q:\n%s", tt.want, out)
			}
		})
	}
}
