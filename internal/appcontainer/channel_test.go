package appcontainer

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bpicori/appkeep/internal/workpool"
)

type readResult struct {
	data []byte
	err  error
}

// fakeEndpoint is an in-memory pipeEndpoint. Reads are served from a queue;
// writes are recorded. Close fails every blocked call.
type fakeEndpoint struct {
	connectErr error
	connect    chan struct{}
	reads      chan readResult

	mu       sync.Mutex
	written  [][]byte
	closes   int
	connects int

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		connect: make(chan struct{}, 1),
		reads:   make(chan readResult, 16),
		closed:  make(chan struct{}),
	}
}

var errHandleClosed = errors.New("handle closed")

func (f *fakeEndpoint) Connect() error {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	select {
	case <-f.connect:
		return nil
	case <-f.closed:
		return errHandleClosed
	}
}

func (f *fakeEndpoint) Read(p []byte) (int, error) {
	select {
	case r := <-f.reads:
		n := copy(p, r.data)
		return n, r.err
	case <-f.closed:
		return 0, errHandleClosed
	}
}

func (f *fakeEndpoint) Write(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, errHandleClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeEndpoint) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func newTestChannel(t *testing.T, ep *fakeEndpoint) *Channel {
	t.Helper()
	c, err := NewChannel(ChannelConfig{
		Path:     `\\.\pipe\appkeep-test`,
		Identity: "S-1-15-2-1",
		Pool:     workpool.New(2),
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	c.create = func(path, identity string) (pipeEndpoint, error) {
		return ep, nil
	}
	return c
}

func wait[T any](t *testing.T, f *workpool.Future[T]) (T, error) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not complete")
	}
	return f.Wait()
}

func connectChannel(t *testing.T, c *Channel, ep *fakeEndpoint) {
	t.Helper()
	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ep.connect <- struct{}{}
	f, err := c.AcceptConnection()
	if err != nil {
		t.Fatalf("AcceptConnection: %v", err)
	}
	if _, err := wait(t, f); err != nil {
		t.Fatalf("accept completion: %v", err)
	}
}

func TestNewChannel_RequiresArguments(t *testing.T) {
	if _, err := NewChannel(ChannelConfig{Identity: "S-1-15-2-1"}); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("missing path error = %v", err)
	}
	if _, err := NewChannel(ChannelConfig{Path: `\\.\pipe\x`}); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("missing identity error = %v", err)
	}
}

func TestChannel_StateMachine(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestChannel(t, ep)

	if c.State() != StateIdle {
		t.Fatalf("initial state = %v", c.State())
	}
	connectChannel(t, c, ep)
	if c.State() != StateConnected || !c.IsConnected() {
		t.Fatalf("after accept: state=%v connected=%v", c.State(), c.IsConnected())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != StateClosed || c.IsConnected() {
		t.Fatalf("after close: state=%v connected=%v", c.State(), c.IsConnected())
	}
}

func TestChannel_ListenTwice(t *testing.T) {
	c := newTestChannel(t, newFakeEndpoint())
	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := c.Listen(); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("second Listen error = %v, want ErrAlreadyListening", err)
	}
}

func TestChannel_ListenFailureLeavesIdle(t *testing.T) {
	c := newTestChannel(t, newFakeEndpoint())
	c.create = func(string, string) (pipeEndpoint, error) {
		return nil, ErrSecurityDescriptor
	}
	if err := c.Listen(); !errors.Is(err, ErrSecurityDescriptor) {
		t.Fatalf("Listen error = %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state after failed Listen = %v", c.State())
	}
}

func TestChannel_ProgrammingErrorsAreSynchronous(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestChannel(t, ep)

	if _, err := c.AcceptConnection(); !errors.Is(err, ErrNotListening) {
		t.Fatalf("accept before listen: %v", err)
	}
	if _, err := c.Read(); !errors.Is(err, ErrNotListening) {
		t.Fatalf("read before listen: %v", err)
	}
	if _, err := c.Write([]byte("x")); !errors.Is(err, ErrNotListening) {
		t.Fatalf("write before listen: %v", err)
	}

	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if _, err := c.Read(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("read before accept: %v", err)
	}
	if _, err := c.Write([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("write before accept: %v", err)
	}
}

func TestChannel_AcceptFailureIsRejectedCompletion(t *testing.T) {
	ep := newFakeEndpoint()
	ep.connectErr = errors.New("pipe busy")
	c := newTestChannel(t, ep)
	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	f, err := c.AcceptConnection()
	if err != nil {
		t.Fatalf("AcceptConnection: %v", err)
	}
	if _, err := wait(t, f); err == nil {
		t.Fatal("expected rejected completion")
	}
	if c.IsConnected() {
		t.Fatal("connected after failed accept")
	}
}

func TestChannel_AcceptWhileConnected(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestChannel(t, ep)
	connectChannel(t, c, ep)

	f, err := c.AcceptConnection()
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second AcceptConnection error = %v, want ErrAlreadyConnected", err)
	}
	if f != nil {
		t.Fatal("second AcceptConnection returned a completion")
	}

	ep.mu.Lock()
	connects := ep.connects
	ep.mu.Unlock()
	if connects != 1 {
		t.Fatalf("endpoint Connect called %d times, want 1", connects)
	}
	if !c.IsConnected() || c.State() != StateConnected {
		t.Fatalf("live peer dropped: connected=%v state=%v", c.IsConnected(), c.State())
	}

	ep.reads <- readResult{data: []byte("still here")}
	rf, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got, err := wait(t, rf); err != nil || string(got) != "still here" {
		t.Fatalf("Read = %q, %v", got, err)
	}
}

func TestChannel_WriteThenRead(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestChannel(t, ep)
	connectChannel(t, c, ep)

	wf, err := c.Write([]byte("ping"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := wait(t, wf); err != nil {
		t.Fatalf("write completion: %v", err)
	}
	if len(ep.written) != 1 || string(ep.written[0]) != "ping" {
		t.Fatalf("written = %q", ep.written)
	}

	ep.reads <- readResult{data: []byte("pong")}
	rf, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got, err := wait(t, rf)
	if err != nil {
		t.Fatalf("read completion: %v", err)
	}
	if string(got) != "pong" {
		t.Fatalf("Read = %q, want %q", got, "pong")
	}
}

func TestChannel_ReadJoinsFragments(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestChannel(t, ep)
	connectChannel(t, c, ep)

	big := bytes.Repeat([]byte("a"), BufferSize)
	ep.reads <- readResult{data: big, err: errMoreData}
	ep.reads <- readResult{data: []byte("tail")}

	rf, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got, err := wait(t, rf)
	if err != nil {
		t.Fatalf("read completion: %v", err)
	}
	if want := append(append([]byte(nil), big...), "tail"...); !bytes.Equal(got, want) {
		t.Fatalf("Read returned %d bytes, want %d", len(got), len(want))
	}
}

func TestChannel_PeerDisconnectIsStateChange(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestChannel(t, ep)
	connectChannel(t, c, ep)

	ep.reads <- readResult{err: io.EOF}
	rf, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got, err := wait(t, rf)
	if err != nil {
		t.Fatalf("peer disconnect surfaced as error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Read after disconnect = %q, want empty", got)
	}
	if c.IsConnected() {
		t.Fatal("still connected after peer disconnect")
	}
	if c.State() != StateListening {
		t.Fatalf("state after disconnect = %v", c.State())
	}
	if _, err := c.Read(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("read after disconnect: %v", err)
	}

	// A fresh accept restores traffic.
	ep.connect <- struct{}{}
	af, err := c.AcceptConnection()
	if err != nil {
		t.Fatalf("AcceptConnection: %v", err)
	}
	if _, err := wait(t, af); err != nil {
		t.Fatalf("re-accept: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("not connected after re-accept")
	}
}

func TestChannel_ReadErrorIsRejected(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestChannel(t, ep)
	connectChannel(t, c, ep)

	ep.reads <- readResult{err: errors.New("device error")}
	rf, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, err := wait(t, rf); err == nil {
		t.Fatal("expected rejected completion")
	}
	if !c.IsConnected() {
		t.Fatal("transport error must not change connection state")
	}
}

func TestChannel_CloseFailsPendingRead(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestChannel(t, ep)
	connectChannel(t, c, ep)

	rf, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := wait(t, rf); !errors.Is(err, errHandleClosed) {
		t.Fatalf("pending read error = %v, want handle closed", err)
	}
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestChannel(t, ep)
	connectChannel(t, c, ep)

	for i := 0; i < 2; i++ {
		if err := c.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if c.IsConnected() {
		t.Fatal("IsConnected after Close")
	}
	if ep.closes != 1 {
		t.Fatalf("endpoint closed %d times, want 1", ep.closes)
	}
	if err := c.Listen(); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Listen after Close: %v", err)
	}
	if _, err := c.Read(); !errors.Is(err, ErrNotListening) {
		t.Fatalf("Read after Close: %v", err)
	}
}

func TestChannel_CloseBeforeListen(t *testing.T) {
	c := newTestChannel(t, newFakeEndpoint())
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Path() != `\\.\pipe\appkeep-test` {
		t.Fatalf("Path = %q", c.Path())
	}
}
