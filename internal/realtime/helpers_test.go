package realtime_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/realtime"
)

const waitTimeout = 2 * time.Second

// fakeTransport records frames written by a connection's writer goroutine.
type fakeTransport struct {
	frames  chan []byte
	writing chan struct{}
	// release, when non-nil, stalls every Write until it is closed or the
	// write context ends.
	release chan struct{}
	failErr error

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	reason    string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames:  make(chan []byte, 256),
		writing: make(chan struct{}, 16),
		closed:  make(chan struct{}),
	}
}

func newStalledTransport() *fakeTransport {
	ft := newFakeTransport()
	ft.release = make(chan struct{})
	return ft
}

func newFailingTransport(err error) *fakeTransport {
	ft := newFakeTransport()
	ft.failErr = err
	return ft
}

func (f *fakeTransport) Write(ctx context.Context, frame []byte) error {
	select {
	case f.writing <- struct{}{}:
	default:
	}

	if f.failErr != nil {
		return f.failErr
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case f.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Close(reason string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.reason = reason
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) closeReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

func newTestRegistry(t *testing.T, opts realtime.Options) *realtime.Registry {
	t.Helper()

	reg := realtime.NewRegistry(opts)
	t.Cleanup(func() { reg.Shutdown(realtime.ReasonShutdown) })
	return reg
}

func mustRegister(t *testing.T, reg *realtime.Registry, ft *fakeTransport, opts realtime.RegisterOptions) *realtime.Connection {
	t.Helper()

	c, err := reg.Register(ft, opts)
	require.NoError(t, err)
	return c
}

func nextFrame(t *testing.T, ft *fakeTransport) []byte {
	t.Helper()

	select {
	case frame := <-ft.frames:
		return frame
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func nextChange(t *testing.T, ft *fakeTransport) realtime.ChangeFrame {
	t.Helper()

	var f realtime.ChangeFrame
	require.NoError(t, json.Unmarshal(nextFrame(t, ft), &f))
	return f
}

func assertNoFrame(t *testing.T, ft *fakeTransport) {
	t.Helper()

	select {
	case frame := <-ft.frames:
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitClosed(t *testing.T, ft *fakeTransport) {
	t.Helper()

	select {
	case <-ft.closed:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for transport close")
	}
}

func waitWriting(t *testing.T, ft *fakeTransport) {
	t.Helper()

	select {
	case <-ft.writing:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for writer to enter Write")
	}
}
