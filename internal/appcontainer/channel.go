package appcontainer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bpicori/appkeep/internal/workpool"
)

// BufferSize is the per-direction buffer of a channel endpoint and the size
// of a single receive.
const BufferSize = 64 * 1024

// State is the lifecycle stage of a Channel.
type State int

const (
	StateIdle State = iota
	StateListening
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// errMoreData is returned by an endpoint Read when the current message
// continues past the supplied buffer.
var errMoreData = errors.New("more data")

// pipeEndpoint is the OS side of a channel. Read returns io.EOF once the
// peer has gone away.
type pipeEndpoint interface {
	Connect() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type endpointFactory func(path, identity string) (pipeEndpoint, error)

// Channel is a duplex, message oriented rendezvous between the supervisor
// and exactly one sandboxed peer. Its access list admits only the sandbox
// identity and the current user. Blocking calls run on the worker pool and
// complete through a Future; argument and state errors are returned
// synchronously.
//
// Reads and writes are not serialized. Issuing a second operation before
// the first completes is a caller error.
type Channel struct {
	path     string
	identity string
	pool     *workpool.Pool
	logger   *slog.Logger
	create   endpointFactory

	mu       sync.Mutex
	endpoint pipeEndpoint
	state    State

	connected atomic.Bool
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// Path is the endpoint name, e.g. \\.\pipe\appkeep-<session>. Required.
	Path string

	// Identity is the sandbox SID allowed to connect. Required.
	Identity string

	// Pool runs blocking calls. Defaults to a pool of workpool.DefaultSize.
	Pool *workpool.Pool

	Logger *slog.Logger
}

// NewChannel returns an idle channel. Nothing is created until Listen.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.Path == "" || cfg.Identity == "" {
		return nil, fmt.Errorf("%w: channel path and sandbox identity are required", ErrInvalidArguments)
	}
	pool := cfg.Pool
	if pool == nil {
		pool = workpool.New(workpool.DefaultSize)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		path:     cfg.Path,
		identity: cfg.Identity,
		pool:     pool,
		logger:   logger,
		create:   createPipeEndpoint,
	}, nil
}

// Listen creates the endpoint with its restricted access list. It may be
// called once per channel.
func (c *Channel) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrChannelClosed
	case StateListening, StateConnected:
		return ErrAlreadyListening
	}

	ep, err := c.create(c.path, c.identity)
	if err != nil {
		return err
	}
	c.endpoint = ep
	c.state = StateListening
	c.logger.Debug("channel listening", "path", c.path)
	return nil
}

// AcceptConnection waits on the pool for the peer to connect. A peer that
// connected before the call counts as success. A channel holds one peer at
// a time, so accepting while connected fails with ErrAlreadyConnected.
func (c *Channel) AcceptConnection() (*workpool.Future[struct{}], error) {
	ep, err := c.activeEndpoint()
	if err != nil {
		return nil, err
	}
	if c.connected.Load() {
		return nil, ErrAlreadyConnected
	}

	return workpool.Submit(c.pool, func() (struct{}, error) {
		if err := ep.Connect(); err != nil {
			return struct{}{}, fmt.Errorf("accept connection on %s: %w", c.path, err)
		}
		if !c.markConnected() {
			return struct{}{}, ErrChannelClosed
		}
		c.logger.Debug("channel peer connected", "path", c.path)
		return struct{}{}, nil
	}), nil
}

// Read receives one complete message, joining fragments the transport
// delivers separately. If the peer disconnects mid-read the Future resolves
// with no data and no error, and IsConnected reports false; a fresh
// AcceptConnection is needed before further traffic.
func (c *Channel) Read() (*workpool.Future[[]byte], error) {
	ep, err := c.connectedEndpoint()
	if err != nil {
		return nil, err
	}

	return workpool.Submit(c.pool, func() ([]byte, error) {
		buf := make([]byte, BufferSize)
		var msg []byte
		for {
			n, err := ep.Read(buf)
			switch {
			case errors.Is(err, errMoreData):
				msg = append(msg, buf[:n]...)
				continue
			case errors.Is(err, io.EOF):
				c.peerGone()
				return nil, nil
			case err != nil:
				return nil, fmt.Errorf("read from %s: %w", c.path, err)
			}
			return append(msg, buf[:n]...), nil
		}
	}), nil
}

// Write sends data as a single message.
func (c *Channel) Write(data []byte) (*workpool.Future[struct{}], error) {
	ep, err := c.connectedEndpoint()
	if err != nil {
		return nil, err
	}

	msg := append([]byte(nil), data...)
	return workpool.Submit(c.pool, func() (struct{}, error) {
		n, err := ep.Write(msg)
		if err != nil {
			return struct{}{}, fmt.Errorf("write to %s: %w", c.path, err)
		}
		if n != len(msg) {
			return struct{}{}, fmt.Errorf("write to %s: %w", c.path, io.ErrShortWrite)
		}
		return struct{}{}, nil
	}), nil
}

// Close releases the endpoint. Pending operations fail. Calling Close more
// than once is harmless.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected.Store(false)
	c.state = StateClosed
	if c.endpoint == nil {
		return nil
	}
	ep := c.endpoint
	c.endpoint = nil
	c.logger.Debug("channel closed", "path", c.path)
	return ep.Close()
}

// IsConnected reports whether a peer is currently attached.
func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// Path returns the endpoint name.
func (c *Channel) Path() string {
	return c.path
}

// State returns the current lifecycle stage.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) activeEndpoint() (pipeEndpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoint == nil {
		return nil, ErrNotListening
	}
	return c.endpoint, nil
}

func (c *Channel) connectedEndpoint() (pipeEndpoint, error) {
	ep, err := c.activeEndpoint()
	if err != nil {
		return nil, err
	}
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	return ep, nil
}

func (c *Channel) markConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = StateConnected
	c.connected.Store(true)
	return true
}

func (c *Channel) peerGone() {
	c.connected.Store(false)
	c.setState(StateConnected, StateListening)
	c.logger.Debug("channel peer disconnected", "path", c.path)
}

// setState moves from one state to another, leaving Closed untouched.
func (c *Channel) setState(from, to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == from {
		c.state = to
	}
}
