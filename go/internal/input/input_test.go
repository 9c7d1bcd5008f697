package input

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONEvent(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Event
		wantErr bool
	}{
		{
			name: "touch start",
			line: `{"type":"touchstart","fingers":2,"x":10,"y":20}`,
			want: TouchEvent{Phase: PhaseStart, Fingers: 2, X: 10, Y: 20},
		},
		{
			name: "touch cancel maps to end",
			line: `{"type":"touchcancel","fingers":0}`,
			want: TouchEvent{Phase: PhaseEnd},
		},
		{
			name: "quaternion",
			line: `{"type":"orientation","x":0.1,"y":0.2,"z":0.3,"w":0.9}`,
			want: OrientationEvent{Orientation: remote.Quaternion{X: 0.1, Y: 0.2, Z: 0.3, W: 0.9}},
		},
		{name: "missing type", line: `{"fingers":1}`, wantErr: true},
		{name: "unknown type", line: `{"type":"wheel"}`, wantErr: true},
		{name: "not json", line: `touchstart`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSONEvent([]byte(tt.line))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONLines_SkipsBadLinesAndKeepsOrder(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"touchstart","fingers":1,"x":1,"y":1}`,
		`garbage`,
		``,
		`{"type":"touchmove","fingers":1,"x":2,"y":2}`,
		`{"type":"touchend","fingers":0}`,
	}, "\n")

	ch, err := NewJSONLines(strings.NewReader(stream)).Bind(context.Background())
	require.NoError(t, err)

	var phases []Phase
	for ev := range ch {
		phases = append(phases, ev.(TouchEvent).Phase)
	}
	assert.Equal(t, []Phase{PhaseStart, PhaseMove, PhaseEnd}, phases)
}

func TestMux_DispatchesInOrder(t *testing.T) {
	feed := NewFeed(8)
	mux := NewMux()

	var got []string
	mux.SubscribeTouch(func(e TouchEvent) { got = append(got, "touch:"+e.Phase.String()) })
	cancel := mux.SubscribeOrientation(func(q remote.Quaternion) { got = append(got, "orientation") })

	feed.Push(TouchEvent{Phase: PhaseStart, Fingers: 1})
	feed.Push(OrientationEvent{Orientation: remote.IdentityQuaternion})
	feed.Push(TouchEvent{Phase: PhaseEnd})

	ctx, stop := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer stop()
	go func() {
		time.Sleep(30 * time.Millisecond)
		feed.Close()
	}()
	require.NoError(t, mux.Run(ctx, feed))

	assert.Equal(t, []string{"touch:start", "orientation", "touch:end"}, got)

	cancel()
	mux.dispatch(OrientationEvent{})
	assert.Len(t, got, 3)
}

func TestMux_SubscribersRunInRegistrationOrder(t *testing.T) {
	mux := NewMux()

	var got []int
	var cancels []func()
	for i := 0; i < 32; i++ {
		cancels = append(cancels, mux.SubscribeOrientation(func(remote.Quaternion) { got = append(got, i) }))
	}
	cancels[5]()
	cancels[20]()

	var want []int
	for i := 0; i < 32; i++ {
		if i != 5 && i != 20 {
			want = append(want, i)
		}
	}
	for run := 0; run < 10; run++ {
		got = got[:0]
		mux.dispatch(OrientationEvent{Orientation: remote.IdentityQuaternion})
		require.Equal(t, want, got)
	}

	var touches []string
	mux.SubscribeTouch(func(TouchEvent) { touches = append(touches, "first") })
	mux.SubscribeTouch(func(TouchEvent) { touches = append(touches, "second") })
	mux.dispatch(TouchEvent{Phase: PhaseStart, Fingers: 1})
	assert.Equal(t, []string{"first", "second"}, touches)
}

func TestFeed_BindTwice(t *testing.T) {
	feed := NewFeed(1)
	_, err := feed.Bind(context.Background())
	require.NoError(t, err)
	_, err = feed.Bind(context.Background())
	assert.ErrorIs(t, err, ErrFeedBound)

	feed.Close()
	feed.Close()
	assert.False(t, feed.Push(TouchEvent{}))
}

func TestOpen(t *testing.T) {
	src, release, err := Open(SourceConfig{Kind: "stdin"})
	require.NoError(t, err)
	assert.IsType(t, &JSONLines{}, src)
	assert.NoError(t, release())

	src, _, err = Open(SourceConfig{Kind: "evdev", Device: "/dev/input/event3", Width: 1080, Height: 1920})
	require.NoError(t, err)
	assert.Equal(t, &Evdev{Path: "/dev/input/event3", Width: 1080, Height: 1920}, src)

	_, _, err = Open(SourceConfig{Kind: "evdev"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"touchstart","fingers":2,"x":5,"y":6}`+"\n"), 0o600))
	src, release, err = Open(SourceConfig{Kind: path})
	require.NoError(t, err)
	defer release()

	ch, err := src.Bind(context.Background())
	require.NoError(t, err)
	ev := <-ch
	assert.Equal(t, TouchEvent{Phase: PhaseStart, Fingers: 2, X: 5, Y: 6}, ev)

	_, _, err = Open(SourceConfig{Kind: filepath.Join(t.TempDir(), "missing.jsonl")})
	assert.Error(t, err)
}
