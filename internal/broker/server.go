package broker

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bpicori/appkeep/internal/workpool"
)

// ErrWeakToken is returned by NewServer when the handshake token is shorter
// than MinTokenLength.
var ErrWeakToken = errors.New("handshake token too short")

// Transport is the server side of a restricted channel.
// *appcontainer.Channel satisfies it.
type Transport interface {
	Listen() error
	AcceptConnection() (*workpool.Future[struct{}], error)
	Read() (*workpool.Future[[]byte], error)
	Write(data []byte) (*workpool.Future[struct{}], error)
	IsConnected() bool
	Close() error
}

// Handler answers requests other than hello and ping. A returned error is
// reported to the peer as EXECUTION_ERROR.
type Handler interface {
	Handle(ctx context.Context, req Request) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// Config configures a Server.
type Config struct {
	// Token must be presented by the peer in its hello. Required.
	Token string

	// SessionID names the session. Defaults to a random UUID.
	SessionID string

	Transport Transport

	// Handler receives application requests. Without one every such request
	// fails with EXECUTION_ERROR.
	Handler Handler

	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Server answers one peer at a time over a Transport. Each new connection
// must complete the hello handshake before anything else is served.
type Server struct {
	token     string
	sessionID string
	transport Transport
	handler   Handler
	logger    *slog.Logger
	now       func() time.Time

	closed atomic.Bool
}

// NewServer validates cfg and returns a server that is not yet listening.
func NewServer(cfg Config) (*Server, error) {
	if len(cfg.Token) < MinTokenLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakToken, MinTokenLength)
	}
	if cfg.Transport == nil {
		return nil, errors.New("broker transport is required")
	}

	s := &Server{
		token:     cfg.Token,
		sessionID: cfg.SessionID,
		transport: cfg.Transport,
		handler:   cfg.Handler,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
	}
	if s.handler == nil {
		s.handler = HandlerFunc(unsupported)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// SessionID returns the session identifier reported in hello responses.
func (s *Server) SessionID() string {
	return s.sessionID
}

// Serve listens on the transport and handles peers until ctx is cancelled
// or Close is called. After a peer disconnects the server waits for the
// next one. The transport is closed when Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.transport.Listen(); err != nil {
		return fmt.Errorf("broker listen: %w", err)
	}
	defer s.transport.Close()
	stop := context.AfterFunc(ctx, func() { s.transport.Close() })
	defer stop()

	s.logger.Info("broker listening", "session", s.sessionID)
	for {
		if err := s.accept(ctx); err != nil {
			if s.stopping(ctx) {
				return nil
			}
			return err
		}
		s.serveConnection(ctx)
		if s.stopping(ctx) {
			return nil
		}
	}
}

// Close stops Serve and releases the transport.
func (s *Server) Close() error {
	s.closed.Store(true)
	return s.transport.Close()
}

func (s *Server) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || s.closed.Load()
}

func (s *Server) accept(ctx context.Context) error {
	f, err := s.transport.AcceptConnection()
	if err != nil {
		return fmt.Errorf("broker accept: %w", err)
	}
	if _, err := f.Await(ctx); err != nil {
		return fmt.Errorf("broker accept: %w", err)
	}
	s.logger.Debug("broker peer connected", "session", s.sessionID)
	return nil
}

// serveConnection handles one peer until it disconnects or the transport
// fails. Messages may arrive split or batched; a partial trailing line is
// kept until its newline arrives.
func (s *Server) serveConnection(ctx context.Context) {
	handshake := false
	var pending []byte

	for s.transport.IsConnected() {
		f, err := s.transport.Read()
		if err != nil {
			return
		}
		chunk, err := f.Await(ctx)
		if err != nil {
			if !s.stopping(ctx) {
				s.logger.Warn("broker read failed", "session", s.sessionID, "error", err)
			}
			return
		}
		pending = append(pending, chunk...)

		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			line := bytes.TrimSpace(pending[:i])
			pending = pending[i+1:]
			if len(line) == 0 {
				continue
			}
			if err := s.reply(ctx, s.handle(ctx, line, &handshake)); err != nil {
				if !s.stopping(ctx) {
					s.logger.Warn("broker write failed", "session", s.sessionID, "error", err)
				}
				return
			}
		}
	}
	s.logger.Debug("broker peer disconnected", "session", s.sessionID)
}

func (s *Server) handle(ctx context.Context, line []byte, handshake *bool) Response {
	req, err := parseRequest(line)
	if err != nil {
		return failure(uuid.NewString(), CodeInvalidRequest, "invalid request: "+err.Error())
	}

	if !*handshake {
		if req.Type != TypeHello {
			return failure(req.ID, CodeHandshakeRequired, "handshake required")
		}
		if !s.tokenMatches(req.Token) {
			s.logger.Warn("broker handshake rejected", "session", s.sessionID)
			return failure(req.ID, CodeHandshakeFailed, "handshake failed")
		}
		*handshake = true
		s.logger.Info("broker handshake complete", "session", s.sessionID, "client_version", req.ClientVersion)
		return success(req.ID, s.session())
	}

	switch req.Type {
	case TypeHello:
		return success(req.ID, s.session())
	case TypePing:
		return success(req.ID, Pong{Pong: true})
	}

	data, err := s.handler.Handle(ctx, req)
	if err != nil {
		return failure(req.ID, CodeExecutionError, err.Error())
	}
	return success(req.ID, data)
}

func (s *Server) reply(ctx context.Context, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		b, err = json.Marshal(failure(resp.ID, CodeExecutionError, "encode response: "+err.Error()))
		if err != nil {
			return err
		}
	}
	b = append(b, '\n')

	f, err := s.transport.Write(b)
	if err != nil {
		return err
	}
	_, err = f.Await(ctx)
	return err
}

func (s *Server) tokenMatches(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

func (s *Server) session() Session {
	return Session{
		SessionID:   s.sessionID,
		ConnectedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
}

func parseRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, err
	}
	if _, err := uuid.Parse(req.ID); err != nil {
		return Request{}, fmt.Errorf("id: %w", err)
	}
	if req.Type == "" {
		return Request{}, errors.New("type is required")
	}
	if req.Type == TypeHello && len(req.Token) < MinTokenLength {
		return Request{}, fmt.Errorf("hello token must be at least %d characters", MinTokenLength)
	}
	req.Raw = append(json.RawMessage(nil), line...)
	return req, nil
}

func unsupported(_ context.Context, req Request) (any, error) {
	return nil, fmt.Errorf("unsupported request type %q", req.Type)
}
