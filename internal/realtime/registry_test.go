package realtime_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/realtime"
)

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	t.Run("assigns id and guest name", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		c := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{})

		assert.NotEmpty(t, c.ID())
		assert.True(t, strings.HasPrefix(c.DisplayName(), "Guest-"), "got %q", c.DisplayName())
		assert.Equal(t, 1, reg.Len())
		assert.Equal(t, 0, reg.BoardCount())
	})

	t.Run("pre-subscribes handshake board", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		c := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{DisplayName: "Alice", BoardID: 3})

		assert.Equal(t, []string{c.ID()}, reg.ConnectionsForBoard(3))
		info, ok := reg.Snapshot(c.ID())
		require.True(t, ok)
		assert.Equal(t, []int64{3}, info.Boards)
		assert.Equal(t, "Alice", info.DisplayName)
		assert.Equal(t, realtime.LivenessAlive, info.Liveness)
	})

	t.Run("display names are not unique keys", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		a := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{DisplayName: "Sam"})
		b := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{DisplayName: "Sam"})

		assert.NotEqual(t, a.ID(), b.ID())
		assert.Equal(t, 2, reg.Len())
	})

	t.Run("announced connection sees connected frame before fan-out", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		bc := realtime.NewBroadcaster(reg)

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					if bc.Publish(changeEvent(domain.ChangeTicketUpdated, 1)) > 0 {
						return
					}
				}
			}
		}()

		ft := newFakeTransport()
		c := mustRegister(t, reg, ft, realtime.RegisterOptions{DisplayName: "Alice", BoardID: 1, Announce: true})
		close(stop)
		wg.Wait()
		require.Equal(t, 1, bc.Publish(changeEvent(domain.ChangeTicketMoved, 1)))

		assert.JSONEq(t,
			`{"event":"connected","data":{"connection_id":"`+c.ID()+`","display_name":"Alice","board_id":1}}`,
			string(nextFrame(t, ft)))
		assert.Equal(t, int64(1), nextChange(t, ft).BoardID)
	})

	t.Run("connected frame without board", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		ft := newFakeTransport()
		c := mustRegister(t, reg, ft, realtime.RegisterOptions{ConnectionID: "client-9", DisplayName: "Bo", Announce: true})

		assert.Equal(t, "client-9", c.ID())
		assert.JSONEq(t,
			`{"event":"connected","data":{"connection_id":"client-9","display_name":"Bo","board_id":null}}`,
			string(nextFrame(t, ft)))
	})

	t.Run("nil transport", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		_, err := reg.Register(nil, realtime.RegisterOptions{})
		require.ErrorIs(t, err, realtime.ErrNilTransport)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("negative board", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		_, err := reg.Register(newFakeTransport(), realtime.RegisterOptions{BoardID: -1})
		require.ErrorIs(t, err, realtime.ErrInvalidBoard)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("preserved id replaces stale connection", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		oldT := newFakeTransport()
		old := mustRegister(t, reg, oldT, realtime.RegisterOptions{ConnectionID: "client-1", BoardID: 1})
		require.NoError(t, reg.Subscribe("client-1", 2))

		newT := newFakeTransport()
		fresh := mustRegister(t, reg, newT, realtime.RegisterOptions{ConnectionID: "client-1", BoardID: 1})

		waitClosed(t, oldT)
		assert.Equal(t, realtime.ReasonReplaced, oldT.closeReason())
		assert.Equal(t, 1, reg.Len())
		assert.Equal(t, []string{"client-1"}, reg.ConnectionsForBoard(1))
		assert.Empty(t, reg.ConnectionsForBoard(2), "stale subscriptions must not carry over")

		// A late failure on the old socket must not evict its successor.
		assert.False(t, reg.EvictConnection(old, realtime.ReasonReadFailed))
		assert.Equal(t, 1, reg.Len())

		require.NoError(t, reg.Send(fresh, realtime.PingFrame()))
		assert.Equal(t, realtime.PingFrame(), nextFrame(t, newT))
	})
}

// ---------------------------------------------------------------------------
// Subscribe / Unsubscribe
// ---------------------------------------------------------------------------

func TestRegistry_Subscribe(t *testing.T) {
	t.Parallel()

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		c := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{})

		require.NoError(t, reg.Subscribe(c.ID(), 7))
		require.NoError(t, reg.Subscribe(c.ID(), 7))

		assert.Equal(t, []string{c.ID()}, reg.ConnectionsForBoard(7))
		info, _ := reg.Snapshot(c.ID())
		assert.Equal(t, []int64{7}, info.Boards)
	})

	t.Run("multiple boards", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		c := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{BoardID: 2})
		require.NoError(t, reg.Subscribe(c.ID(), 1))

		info, _ := reg.Snapshot(c.ID())
		assert.Equal(t, []int64{1, 2}, info.Boards)
		assert.Equal(t, 2, reg.BoardCount())
	})

	t.Run("unknown connection", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		err := reg.Subscribe("missing", 1)
		require.ErrorIs(t, err, realtime.ErrConnectionNotFound)
		assert.Equal(t, 0, reg.BoardCount())
	})

	t.Run("invalid board", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		c := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{})
		require.ErrorIs(t, reg.Subscribe(c.ID(), 0), realtime.ErrInvalidBoard)
	})
}

func TestRegistry_Unsubscribe(t *testing.T) {
	t.Parallel()

	t.Run("last subscriber frees board entry", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		a := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{BoardID: 4})
		b := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{BoardID: 4})

		require.NoError(t, reg.Unsubscribe(a.ID(), 4))
		assert.Equal(t, []string{b.ID()}, reg.ConnectionsForBoard(4))
		assert.Equal(t, 1, reg.BoardCount())

		require.NoError(t, reg.Unsubscribe(b.ID(), 4))
		assert.Empty(t, reg.ConnectionsForBoard(4))
		assert.Equal(t, 0, reg.BoardCount())
	})

	t.Run("never subscribed is a no-op", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		c := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{})

		require.NoError(t, reg.Unsubscribe(c.ID(), 9))
		require.NoError(t, reg.Unsubscribe(c.ID(), 9))
		assert.Equal(t, 0, reg.BoardCount())
	})

	t.Run("unknown connection", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		require.ErrorIs(t, reg.Unsubscribe("missing", 1), realtime.ErrConnectionNotFound)
	})
}

// ---------------------------------------------------------------------------
// Evict
// ---------------------------------------------------------------------------

func TestRegistry_Evict(t *testing.T) {
	t.Parallel()

	t.Run("removes every subscription", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		ft := newFakeTransport()
		c := mustRegister(t, reg, ft, realtime.RegisterOptions{BoardID: 1})
		other := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{BoardID: 2})
		require.NoError(t, reg.Subscribe(c.ID(), 2))
		require.NoError(t, reg.Subscribe(c.ID(), 3))

		require.True(t, reg.Evict(c.ID(), realtime.ReasonRequested))

		for _, board := range []int64{1, 2, 3} {
			assert.NotContains(t, reg.ConnectionsForBoard(board), c.ID(), "board %d", board)
		}
		assert.Equal(t, []string{other.ID()}, reg.ConnectionsForBoard(2))
		assert.Equal(t, 1, reg.BoardCount())
		_, ok := reg.Snapshot(c.ID())
		assert.False(t, ok)

		waitClosed(t, ft)
		assert.Equal(t, realtime.ReasonRequested, ft.closeReason())
		<-c.Done()
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		c := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{BoardID: 1})

		assert.True(t, reg.Evict(c.ID(), realtime.ReasonRequested))
		assert.False(t, reg.Evict(c.ID(), realtime.ReasonHeartbeat))
		assert.False(t, reg.EvictConnection(c, realtime.ReasonReadFailed))
	})

	t.Run("send after evict fails", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		c := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{})
		reg.Evict(c.ID(), realtime.ReasonRequested)

		assert.Error(t, reg.Send(c, realtime.PingFrame()))
	})

	t.Run("touch after evict is a no-op", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		c := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{})
		reg.Evict(c.ID(), realtime.ReasonRequested)

		assert.NotPanics(t, func() { reg.Touch(c.ID()) })
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("write failure evicts", func(t *testing.T) {
		t.Parallel()

		reg := newTestRegistry(t, realtime.Options{})
		ft := newFailingTransport(errors.New("broken pipe"))
		c := mustRegister(t, reg, ft, realtime.RegisterOptions{BoardID: 1})

		require.NoError(t, reg.Send(c, realtime.PingFrame()))

		waitClosed(t, ft)
		assert.Equal(t, realtime.ReasonWriteFailed, ft.closeReason())
		assert.Equal(t, 0, reg.Len())
		assert.Equal(t, 0, reg.BoardCount())
	})
}

func TestRegistry_DropBoard(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, realtime.Options{})
	a := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{BoardID: 5})
	b := mustRegister(t, reg, newFakeTransport(), realtime.RegisterOptions{BoardID: 5})
	require.NoError(t, reg.Subscribe(b.ID(), 6))

	assert.Equal(t, 2, reg.DropBoard(5))
	assert.Empty(t, reg.ConnectionsForBoard(5))
	assert.Equal(t, 2, reg.Len(), "connections survive board deletion")

	infoA, _ := reg.Snapshot(a.ID())
	assert.Empty(t, infoA.Boards)
	infoB, _ := reg.Snapshot(b.ID())
	assert.Equal(t, []int64{6}, infoB.Boards)
	assert.Equal(t, 0, reg.DropBoard(5))
}

func TestRegistry_Shutdown(t *testing.T) {
	t.Parallel()

	reg := realtime.NewRegistry(realtime.Options{})
	transports := []*fakeTransport{newFakeTransport(), newFakeTransport(), newStalledTransport()}
	for i, ft := range transports {
		mustRegister(t, reg, ft, realtime.RegisterOptions{BoardID: int64(i + 1)})
	}

	reg.Shutdown(realtime.ReasonShutdown)

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, reg.BoardCount())
	for _, ft := range transports {
		waitClosed(t, ft)
		assert.Equal(t, realtime.ReasonShutdown, ft.closeReason())
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestRegistry_ConcurrentMutations(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, realtime.Options{})

	const workers = 16
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			c, err := reg.Register(newFakeTransport(), realtime.RegisterOptions{BoardID: int64(i%4 + 1)})
			if err != nil {
				return
			}
			for b := int64(1); b <= 4; b++ {
				_ = reg.Subscribe(c.ID(), b)
				_ = reg.Subscribe(c.ID(), b)
			}
			reg.Touch(c.ID())
			_ = reg.Unsubscribe(c.ID(), 2)
			reg.Evict(c.ID(), realtime.ReasonRequested)
			reg.Evict(c.ID(), realtime.ReasonRequested)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, reg.BoardCount(), "no board entry may outlive its subscribers")
}
