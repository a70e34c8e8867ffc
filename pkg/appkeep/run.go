package appkeep

import (
	"log/slog"
	"maps"

	"github.com/bpicori/appkeep/internal/platform"
	"github.com/bpicori/appkeep/internal/profile"
)

// Run validates and launches a sandboxed command request. With ShowProfile
// set it only renders the launch specification.
func Run(req RunRequest) (RunResult, error) {
	p := &profile.Profile{
		Workspace:   req.Workspace,
		AllowNet:    req.AllowNet,
		ShowProfile: req.ShowProfile,
		Command:     append([]string{}, req.Command...),
	}
	if req.Env != nil {
		p.Env = maps.Clone(req.Env)
	}

	plat, err := platform.New(identities(), slog.Default())
	if err != nil {
		return RunResult{}, err
	}

	if err := p.Validate(plat.SensitivePaths()); err != nil {
		return RunResult{}, err
	}

	if p.ShowProfile {
		rendered, err := plat.GenerateProfile(p)
		if err != nil {
			return RunResult{}, err
		}
		return RunResult{PID: -1, GeneratedProfile: rendered}, nil
	}

	pid, err := plat.Launch(p)
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{PID: pid}, nil
}
