package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bpicori/appkeep/internal/broker"
	"github.com/bpicori/appkeep/pkg/appkeep"
)

// TokenEnv is read when --token is not given, so the secret stays out of
// the process command line.
const TokenEnv = "APPKEEP_BROKER_TOKEN"

// BrokerCmd executes the "broker" subcommand: it opens the restricted
// channel for a session and answers the sandboxed peer until interrupted.
func BrokerCmd(args []string) int {
	fs := pflag.NewFlagSet("broker", pflag.ContinueOnError)
	var token, session string
	fs.StringVar(&token, "token", "", "Handshake token the peer must present (default: $"+TokenEnv+")")
	fs.StringVar(&session, "session", "", "Session id used in the pipe name (default: random UUID)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: appkeep broker [options]\n\n")
		fmt.Fprintf(os.Stderr, "Serve the broker protocol on \\\\.\\pipe\\appkeep-<session>. The pipe path is printed on stdout.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if token == "" {
		token = os.Getenv(TokenEnv)
	}
	if session == "" {
		session = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := serveBroker(ctx, token, session); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func serveBroker(ctx context.Context, token, session string) error {
	identity, err := appkeep.EnsureIdentity()
	if err != nil {
		return err
	}

	path := broker.PipePath(session)
	channel, err := appkeep.NewChannel(path, identity)
	if err != nil {
		return err
	}

	srv, err := broker.NewServer(broker.Config{
		Token:     token,
		SessionID: session,
		Transport: channel,
		Handler:   broker.HandlerFunc(auditHandler),
		Logger:    slog.Default(),
	})
	if err != nil {
		channel.Close()
		return err
	}

	fmt.Println(path)
	return srv.Serve(ctx)
}

// auditRequest asks the supervisor to audit a resource for the sandbox
// identity.
type auditRequest struct {
	Path string `json:"path"`
}

func auditHandler(_ context.Context, req broker.Request) (any, error) {
	if req.Type != "audit" {
		return nil, fmt.Errorf("unsupported request type %q", req.Type)
	}
	var in auditRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	if in.Path == "" {
		return nil, errors.New("path is required")
	}
	return appkeep.VerifyAccessList(in.Path, appkeep.GetSandboxIdentity()), nil
}
