package controls

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/vremote/go/clients"
	"github.com/mcdev12/vremote/go/internal/broker"
	"github.com/mcdev12/vremote/go/internal/gesture"
	"github.com/mcdev12/vremote/go/internal/input"
	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/mcdev12/vremote/go/internal/rendezvous"
	"github.com/mcdev12/vremote/go/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type testRelay struct {
	url     string
	relay   *rendezvous.MemoryRelay
	fetches atomic.Int32
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	tr := &testRelay{relay: rendezvous.NewMemoryRelay()}
	h := rendezvous.NewServer(rendezvous.DefaultConfig(), tr.relay).Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == clients.PairCodePath {
			tr.fetches.Add(1)
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	tr.url = srv.URL
	return tr
}

func testConfig(proxyURL, code string) Config {
	cfg := Config{
		Broker:       broker.DefaultConfig(),
		PairCode:     code,
		Enabled:      true,
		Gesture:      gesture.DefaultConfig(),
		TickInterval: 10 * time.Millisecond,
	}
	cfg.Broker.ProxyURL = proxyURL
	return cfg
}

type events struct {
	paired       chan string
	connected    chan struct{}
	disconnected chan struct{}
}

func newEvents() (*events, broker.Listener) {
	ev := &events{
		paired:       make(chan string, 4),
		connected:    make(chan struct{}, 4),
		disconnected: make(chan struct{}, 4),
	}
	return ev, broker.ListenerFuncs{
		OnPaired:       func(code string) { ev.paired <- code },
		OnConnected:    func() { ev.connected <- struct{}{} },
		OnDisconnected: func() { ev.disconnected <- struct{}{} },
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func dialPhone(t *testing.T, proxyURL, code string) transport.Conn {
	t.Helper()
	conn, err := transport.NewWebSocketDialer(transport.DefaultConfig()).Dial(context.Background(), proxyURL, code)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestControls_PairsWithPhone(t *testing.T) {
	tr := newTestRelay(t)
	ev, listener := newEvents()

	c := New(testConfig(tr.url, "AB12"), WithListener(listener))
	t.Cleanup(c.Close)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, int32(0), tr.fetches.Load(), "configured code skips the fetch")
	assert.Equal(t, "AB12", <-ev.paired)
	assert.Equal(t, "AB12", c.PairCode())
	assert.False(t, c.Connected())

	require.Eventually(t, func() bool { return tr.relay.Active("AB12") }, waitFor, time.Millisecond)
	phone := dialPhone(t, tr.url, "AB12")
	waitSignal(t, ev.connected, "connected")
	assert.True(t, c.Connected())

	sent := remote.State{
		Orientation: remote.Quaternion{X: 0.5, Y: 0.5, Z: 0.5, W: 0.5},
		Buttons:     remote.Buttons{Click: true},
		Trackpad:    remote.Trackpad{X: 0.25, Y: 0.75},
		Touching:    true,
	}
	require.NoError(t, phone.Send(remote.StateMessage(sent)))

	require.Eventually(t, func() bool { return c.Sample().Buttons.Click }, waitFor, time.Millisecond)
	got := c.Sample()
	assert.Equal(t, sent, got)

	_, ok := c.Get(remote.TypeRemotePhone)
	assert.True(t, ok)

	frame := c.Frame()
	assert.True(t, frame.Connected)
	assert.Equal(t, uint64(1), frame.Seq)
}

func TestControls_FetchesPairCodeWhenUnset(t *testing.T) {
	tr := newTestRelay(t)
	ev, listener := newEvents()

	c := New(testConfig(tr.url, ""), WithListener(listener))
	t.Cleanup(c.Close)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, int32(1), tr.fetches.Load())
	code := <-ev.paired
	assert.Len(t, code, 4)
	assert.Equal(t, code, c.PairCode())
}

func TestControls_PhoneLeavingFallsBackToLocal(t *testing.T) {
	tr := newTestRelay(t)
	ev, listener := newEvents()

	c := New(testConfig(tr.url, "CD34"), WithListener(listener))
	t.Cleanup(c.Close)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return tr.relay.Active("CD34") }, waitFor, time.Millisecond)
	phone := dialPhone(t, tr.url, "CD34")
	waitSignal(t, ev.connected, "connected")

	require.NoError(t, phone.Send(remote.StateMessage(remote.State{
		Orientation: remote.IdentityQuaternion,
		Buttons:     remote.Buttons{Home: true},
	})))
	require.Eventually(t, func() bool { return c.Sample().Buttons.Home }, waitFor, time.Millisecond)

	require.NoError(t, phone.Close())
	waitSignal(t, ev.disconnected, "disconnected")
	assert.False(t, c.Connected())
	assert.False(t, c.Sample().Buttons.Home, "local input has nothing held")

	// the stored remote value is kept for the next pairing
	_, ok := c.Get(remote.TypeRemotePhone)
	assert.True(t, ok)
}

func isIdentity(q remote.Quaternion) bool {
	const eps = 1e-9
	return math.Abs(q.X) < eps && math.Abs(q.Y) < eps && math.Abs(q.Z) < eps && math.Abs(math.Abs(q.W)-1) < eps
}

func TestControls_LocalInput(t *testing.T) {
	c := New(testConfig("http://127.0.0.1:1", "AB12"), WithClock(clockwork.NewFakeClock()))
	t.Cleanup(c.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := input.NewFeed(8)
	done := make(chan error, 1)
	go func() { done <- c.RunLocal(ctx, feed) }()

	require.True(t, feed.Push(input.TouchEvent{Phase: input.PhaseStart, Fingers: 1, X: 100, Y: 100}))
	require.Eventually(t, func() bool { return c.Sample().Touching }, waitFor, time.Millisecond)
	pad, ok := c.Sample().TrackpadPosition()
	require.True(t, ok)
	assert.Equal(t, remote.Trackpad{X: 0.5, Y: 0.5}, pad)

	q := remote.Quaternion{Y: 0.7071067811865476, W: 0.7071067811865476}
	require.True(t, feed.Push(input.OrientationEvent{Orientation: q}))
	require.Eventually(t, func() bool { return c.Sample().Orientation == q }, waitFor, time.Millisecond)

	frame := c.Frame()
	assert.False(t, frame.Connected)
	assert.True(t, isIdentity(frame.Relative), "first sample becomes home, got %+v", frame.Relative)

	c.Recenter()
	assert.True(t, isIdentity(c.Frame().Relative))

	cancel()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("RunLocal did not return")
	}
}

func TestControls_LocalTouchRecenters(t *testing.T) {
	c := New(testConfig("http://127.0.0.1:1", "AB12"), WithClock(clockwork.NewFakeClock()))
	t.Cleanup(c.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := input.NewFeed(8)
	done := make(chan error, 1)
	go func() { done <- c.RunLocal(ctx, feed) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	assert.True(t, isIdentity(c.Frame().Relative), "nothing to measure against yet")

	q1 := remote.Quaternion{Y: 0.7071067811865476, W: 0.7071067811865476}
	require.True(t, feed.Push(input.OrientationEvent{Orientation: q1}))
	require.Eventually(t, func() bool { return c.Sample().Orientation == q1 }, waitFor, time.Millisecond)
	assert.True(t, isIdentity(c.Frame().Relative))

	q2 := remote.Quaternion{X: 0.7071067811865476, W: 0.7071067811865476}
	require.True(t, feed.Push(input.OrientationEvent{Orientation: q2}))
	require.Eventually(t, func() bool { return c.Sample().Orientation == q2 }, waitFor, time.Millisecond)
	assert.False(t, isIdentity(c.Frame().Relative), "turned away from home")

	require.True(t, feed.Push(input.TouchEvent{Phase: input.PhaseStart, Fingers: 1, X: 10, Y: 10}))
	require.Eventually(t, func() bool { return isIdentity(c.Frame().Relative) }, waitFor, time.Millisecond,
		"touching down recenters on the current orientation")

	// a second finger is not a new press; the sample after it proves it was handled
	require.True(t, feed.Push(input.TouchEvent{Phase: input.PhaseStart, Fingers: 2, X: 20, Y: 20}))
	require.True(t, feed.Push(input.OrientationEvent{Orientation: q1}))
	require.Eventually(t, func() bool { return c.Sample().Orientation == q1 }, waitFor, time.Millisecond)
	assert.False(t, isIdentity(c.Frame().Relative))

	require.True(t, feed.Push(input.TouchEvent{Phase: input.PhaseEnd, Fingers: 0}))
	require.True(t, feed.Push(input.TouchEvent{Phase: input.PhaseStart, Fingers: 1, X: 10, Y: 10}))
	require.Eventually(t, func() bool { return isIdentity(c.Frame().Relative) }, waitFor, time.Millisecond)
}

func TestControls_RemoteTouchRecenters(t *testing.T) {
	tr := newTestRelay(t)
	ev, listener := newEvents()

	c := New(testConfig(tr.url, "GH78"), WithListener(listener))
	t.Cleanup(c.Close)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return tr.relay.Active("GH78") }, waitFor, time.Millisecond)
	phone := dialPhone(t, tr.url, "GH78")
	waitSignal(t, ev.connected, "connected")

	send := func(q remote.Quaternion, touching bool) {
		t.Helper()
		require.NoError(t, phone.Send(remote.StateMessage(remote.State{Orientation: q, Touching: touching})))
		require.Eventually(t, func() bool {
			s := c.Sample()
			return s.Orientation == q && s.Touching == touching
		}, waitFor, time.Millisecond)
	}

	q1 := remote.Quaternion{Y: 0.7071067811865476, W: 0.7071067811865476}
	q2 := remote.Quaternion{X: 0.7071067811865476, W: 0.7071067811865476}
	q3 := remote.Quaternion{Z: 0.7071067811865476, W: 0.7071067811865476}

	send(q1, false)
	require.Eventually(t, func() bool { return isIdentity(c.Frame().Relative) }, waitFor, time.Millisecond,
		"first phone sample becomes home")

	send(q2, false)
	assert.False(t, isIdentity(c.Frame().Relative))

	send(q2, true)
	require.Eventually(t, func() bool { return isIdentity(c.Frame().Relative) }, waitFor, time.Millisecond,
		"touch beginning on the phone recenters")

	send(q3, true)
	assert.False(t, isIdentity(c.Frame().Relative), "a held touch does not keep recentering")

	send(q3, false)
	send(q1, true)
	require.Eventually(t, func() bool { return isIdentity(c.Frame().Relative) }, waitFor, time.Millisecond)
}

func TestControls_RunTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(testConfig("http://127.0.0.1:1", "AB12"), WithClock(clock))
	t.Cleanup(c.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan Frame, 4)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func(f Frame) { frames <- f }) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(10 * time.Millisecond)

	select {
	case f := <-frames:
		assert.Equal(t, uint64(1), f.Seq)
		assert.False(t, f.Connected)
		assert.Equal(t, remote.IdentityQuaternion, f.State.Orientation)
		assert.Equal(t, clock.Now(), f.At)
	case <-time.After(waitFor):
		t.Fatal("no frame")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
}

func TestControls_SetEnabled(t *testing.T) {
	tr := newTestRelay(t)
	ev, listener := newEvents()

	c := New(testConfig(tr.url, "EF56"), WithListener(listener))
	t.Cleanup(c.Close)
	c.SetEnabled(false)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return tr.relay.Active("EF56") }, waitFor, time.Millisecond)
	phone := dialPhone(t, tr.url, "EF56")
	waitSignal(t, ev.connected, "connected")

	require.NoError(t, phone.Send(remote.StateMessage(remote.State{Buttons: remote.Buttons{App: true}})))
	assert.Never(t, func() bool {
		_, ok := c.Get(remote.TypeRemotePhone)
		return ok
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.False(t, c.Sample().Buttons.App)
}

func TestControls_CloseIsIdempotent(t *testing.T) {
	c := New(testConfig("http://127.0.0.1:1", "AB12"))
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Start(context.Background()), broker.ErrTornDown)
}
