//go:build !windows

package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/bpicori/appkeep/internal/appcontainer"
)

func New(_ *appcontainer.IdentityManager, _ *slog.Logger) (Platform, error) {
	return nil, fmt.Errorf("unsupported platform: %s: %w", runtime.GOOS, errors.ErrUnsupported)
}
