package cli

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bpicori/appkeep/pkg/appkeep"
)

// runFlags holds the raw values parsed from the "run" subcommand flags.
type runFlags struct {
	workspace   string
	allowNet    bool
	env         []string
	clearEnv    bool
	showProfile bool
	profilePath string
	command     []string

	// changed reports whether a flag was given explicitly.
	changed func(name string) bool
	usage   func()
}

// parseRunFlags parses CLI arguments for the "run" subcommand.
func parseRunFlags(args []string) (*runFlags, int) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	// Flags after the command belong to the command.
	fs.SetInterspersed(false)

	f := &runFlags{changed: fs.Changed}

	fs.StringVar(&f.workspace, "workspace", "", "Directory granted to the sandbox and used as its working directory (default: current directory)")
	fs.BoolVar(&f.allowNet, "allow-net", true, "Attach the internet and private network capabilities")
	fs.StringArrayVar(&f.env, "env", nil, "Set KEY=VALUE in the child environment (can be specified multiple times)")
	fs.BoolVar(&f.clearEnv, "clear-env", false, "Start the child with an empty environment instead of a copy of this one")
	fs.BoolVar(&f.showProfile, "show-profile", false, "Print the launch profile and exit (do not run)")
	fs.StringVar(&f.profilePath, "profile", "", "Load run options from YAML file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: appkeep run [options] -- <command line>\n\n")
		fmt.Fprintf(os.Stderr, "Start a command inside the AppContainer sandbox and print its process id.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  appkeep run --workspace C:\\agent\\work -- node agent.js\n")
		fmt.Fprintf(os.Stderr, "  appkeep run --allow-net=false --workspace C:\\agent\\work -- python tool.py\n")
		fmt.Fprintf(os.Stderr, "  appkeep run --clear-env --env PATH=C:\\Windows\\System32 -- cmd.exe /c set\n")
		fmt.Fprintf(os.Stderr, "  appkeep run --show-profile -- \"node agent.js --verbose\"\n")
		fmt.Fprintf(os.Stderr, "  appkeep run --profile .\\profile.yaml\n")
	}
	f.usage = fs.Usage

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, 0
		}
		return nil, 2
	}

	// Everything after "--" (or remaining args) is the command.
	f.command = fs.Args()
	return f, 0
}

// runConfigProfile defines run options that can be loaded from file and
// then overridden by CLI flags.
type runConfigProfile struct {
	Workspace   *string           `yaml:"workspace"`
	AllowNet    *bool             `yaml:"allow_net"`
	Env         map[string]string `yaml:"env"`
	ClearEnv    *bool             `yaml:"clear_env"`
	ShowProfile *bool             `yaml:"show_profile"`
	Command     []string          `yaml:"command"`
}

func resolveRunConfig(f *runFlags) (*runConfigProfile, error) {
	effective := &runConfigProfile{}

	if f.profilePath != "" {
		fromFile, err := loadRunConfigFile(f.profilePath)
		if err != nil {
			return nil, err
		}
		mergeRunConfigProfile(effective, fromFile)
	}

	overrides, err := cliRunConfigOverrides(f)
	if err != nil {
		return nil, err
	}
	mergeRunConfigProfile(effective, overrides)
	return effective, nil
}

func loadRunConfigFile(path string) (*runConfigProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file %q: %w", path, err)
	}

	var fileCfg runConfigProfile
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return nil, fmt.Errorf("parse profile file %q: %w", path, err)
	}
	return &fileCfg, nil
}

func cliRunConfigOverrides(f *runFlags) (*runConfigProfile, error) {
	env, err := parseEnvAssignments(f.env)
	if err != nil {
		return nil, err
	}
	cfg := &runConfigProfile{
		Env:     env,
		Command: append([]string{}, f.command...),
	}

	changed := f.changed
	if changed == nil {
		changed = func(string) bool { return false }
	}
	if changed("workspace") {
		cfg.Workspace = stringPtr(f.workspace)
	}
	if changed("allow-net") {
		cfg.AllowNet = boolPtr(f.allowNet)
	}
	if changed("clear-env") {
		cfg.ClearEnv = boolPtr(f.clearEnv)
	}
	if changed("show-profile") {
		cfg.ShowProfile = boolPtr(f.showProfile)
	}
	return cfg, nil
}

func mergeRunConfigProfile(dst *runConfigProfile, src *runConfigProfile) {
	if dst == nil || src == nil {
		return
	}

	if len(src.Env) > 0 {
		if dst.Env == nil {
			dst.Env = map[string]string{}
		}
		maps.Copy(dst.Env, src.Env)
	}
	if len(src.Command) > 0 {
		dst.Command = append([]string{}, src.Command...)
	}
	if src.Workspace != nil {
		dst.Workspace = stringPtr(*src.Workspace)
	}
	if src.AllowNet != nil {
		dst.AllowNet = boolPtr(*src.AllowNet)
	}
	if src.ClearEnv != nil {
		dst.ClearEnv = boolPtr(*src.ClearEnv)
	}
	if src.ShowProfile != nil {
		dst.ShowProfile = boolPtr(*src.ShowProfile)
	}
}

// parseEnvAssignments turns KEY=VALUE strings into a map. The split is at
// the first '=' after the first character so "=C:=C:\dir" entries survive.
func parseEnvAssignments(assignments []string) (map[string]string, error) {
	if len(assignments) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(assignments))
	for _, a := range assignments {
		key, value, ok := splitEnvAssignment(a)
		if !ok {
			return nil, fmt.Errorf("invalid --env %q: expected KEY=VALUE", a)
		}
		env[key] = value
	}
	return env, nil
}

func splitEnvAssignment(a string) (string, string, bool) {
	if len(a) < 2 {
		return "", "", false
	}
	i := strings.IndexByte(a[1:], '=')
	if i < 0 {
		return "", "", false
	}
	return a[:i+1], a[i+2:], true
}

func boolPtr(v bool) *bool {
	return &v
}

func stringPtr(v string) *string {
	return &v
}

// buildRequest constructs an appkeep run request from resolved run options.
// environ supplies the base environment when overrides are given without
// clear_env.
func buildRequest(c *runConfigProfile, cwd string, environ []string) appkeep.RunRequest {
	req := appkeep.RunRequest{
		Workspace: cwd,
		AllowNet:  true,
		Command:   append([]string{}, c.Command...),
	}
	if c.Workspace != nil {
		req.Workspace = *c.Workspace
	}
	if c.AllowNet != nil {
		req.AllowNet = *c.AllowNet
	}
	if c.ShowProfile != nil {
		req.ShowProfile = *c.ShowProfile
	}

	clearEnv := c.ClearEnv != nil && *c.ClearEnv
	switch {
	case clearEnv:
		req.Env = map[string]string{}
	case len(c.Env) > 0:
		req.Env = make(map[string]string, len(environ))
		for _, kv := range environ {
			if k, v, ok := splitEnvAssignment(kv); ok {
				req.Env[k] = v
			}
		}
	}
	if req.Env != nil {
		maps.Copy(req.Env, c.Env)
	}
	return req
}

// RunCmd executes the "run" subcommand which starts a command inside the
// sandbox and prints its process id.
func RunCmd(args []string) int {
	f, exitCode := parseRunFlags(args)
	if f == nil {
		return exitCode
	}

	effective, err := resolveRunConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if len(effective.Command) == 0 {
		fmt.Fprintf(os.Stderr, "Error: no command specified (pass it after -- or in profile file)\n\n")
		if f.usage != nil {
			f.usage()
		}
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	result, err := appkeep.Run(buildRequest(effective, cwd, os.Environ()))
	if err != nil {
		var le *appkeep.LaunchError
		if errors.As(err, &le) {
			fmt.Fprintf(os.Stderr, "Error: %v (%s, code %d)\n", err, le.Code, int(le.Code))
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if result.GeneratedProfile != "" {
		fmt.Print(result.GeneratedProfile)
		return 0
	}
	fmt.Println(result.PID)
	return 0
}
