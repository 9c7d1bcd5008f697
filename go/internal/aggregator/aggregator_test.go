package aggregator

import (
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status struct{ connected atomic.Bool }

func (s *status) Connected() bool { return s.connected.Load() }

type table map[string]json.RawMessage

func (t table) Get(eventType string) (json.RawMessage, bool) {
	raw, ok := t[eventType]
	return raw, ok
}

type local struct{ state remote.State }

func (l local) State() remote.State { return l.state }

type sampler struct {
	q  remote.Quaternion
	ok bool
}

func (s sampler) Latest() (remote.Quaternion, bool) { return s.q, s.ok }

func TestSample_ConnectedUsesRemotePhone(t *testing.T) {
	st := &status{}
	st.connected.Store(true)
	tbl := table{
		remote.TypeRemotePhone: json.RawMessage(`{
			"orientation":{"x":0,"y":0.7071,"z":0,"w":0.7071},
			"buttons":{"click":false,"app":true,"home":false},
			"trackpad":{"x":0.25,"y":0.75},
			"touching":true
		}`),
	}
	loc := local{state: remote.State{Buttons: remote.Buttons{Click: true}}}
	a := New(st, tbl, loc, sampler{q: remote.Quaternion{X: 1}, ok: true})

	s := a.Sample()
	assert.True(t, s.Buttons.App)
	assert.False(t, s.Buttons.Click, "local input is ignored while connected")
	assert.InDelta(t, 0.7071, s.Orientation.Y, 1e-9)

	tp, ok := a.Trackpad()
	require.True(t, ok)
	assert.Equal(t, remote.Trackpad{X: 0.25, Y: 0.75}, tp)
}

func TestSample_ConnectedWithoutStateIsDefault(t *testing.T) {
	st := &status{}
	st.connected.Store(true)
	a := New(st, table{}, nil, nil)
	assert.Equal(t, remote.DefaultState(), a.Sample())
}

func TestSample_ConnectedUndecodableIsDefault(t *testing.T) {
	st := &status{}
	st.connected.Store(true)
	a := New(st, table{remote.TypeRemotePhone: json.RawMessage(`[1,2]`)}, nil, nil)
	assert.Equal(t, remote.DefaultState(), a.Sample())
}

func TestSample_DisconnectedMergesLocalSources(t *testing.T) {
	st := &status{}
	loc := local{state: remote.State{
		Buttons:  remote.Buttons{Home: true},
		Trackpad: remote.Trackpad{X: 0.5, Y: 0.5},
		Touching: true,
	}}
	q := remote.Quaternion{Z: 1}
	a := New(st, table{remote.TypeRemotePhone: json.RawMessage(`{"touching":false}`)}, loc, sampler{q: q, ok: true})

	s := a.Sample()
	assert.Equal(t, q, s.Orientation)
	assert.True(t, s.Buttons.Home)
	assert.True(t, s.Touching)
	assert.Equal(t, remote.Trackpad{X: 0.5, Y: 0.5}, s.Trackpad)
}

func TestSample_NoOrientationSampleIsIdentity(t *testing.T) {
	a := New(&status{}, table{}, local{state: remote.DefaultState()}, sampler{})
	assert.Equal(t, remote.IdentityQuaternion, a.Orientation())
	assert.Equal(t, remote.Buttons{}, a.Buttons())
	_, ok := a.Trackpad()
	assert.False(t, ok)
}

func TestSample_ConnectionFlipTakesEffectImmediately(t *testing.T) {
	st := &status{}
	tbl := table{remote.TypeRemotePhone: json.RawMessage(`{"buttons":{"click":true}}`)}
	a := New(st, tbl, local{state: remote.DefaultState()}, nil)

	assert.False(t, a.Buttons().Click)
	st.connected.Store(true)
	assert.True(t, a.Buttons().Click)
	st.connected.Store(false)
	assert.False(t, a.Buttons().Click)
}

// flappingStatus reports the opposite of its previous answer on every call.
type flappingStatus struct{ calls atomic.Int64 }

func (s *flappingStatus) Connected() bool { return s.calls.Add(1)%2 == 1 }

func TestRead_StateMatchesConnectionItWasChosenBy(t *testing.T) {
	st := &flappingStatus{}
	tbl := table{remote.TypeRemotePhone: json.RawMessage(`{"buttons":{"click":true}}`)}
	a := New(st, tbl, local{state: remote.DefaultState()}, nil)

	for range 10 {
		r := a.Read()
		assert.Equal(t, r.Connected, r.State.Buttons.Click, "state came from the other source")
	}
	assert.EqualValues(t, 10, st.calls.Load(), "status consulted once per read")
}

func TestRead_Oriented(t *testing.T) {
	st := &status{}
	a := New(st, table{}, local{state: remote.DefaultState()}, sampler{})
	r := a.Read()
	assert.False(t, r.Oriented)
	assert.Equal(t, remote.IdentityQuaternion, r.State.Orientation)

	a = New(st, table{}, local{state: remote.DefaultState()}, sampler{q: remote.Quaternion{Z: 1}, ok: true})
	assert.True(t, a.Read().Oriented)

	st.connected.Store(true)
	assert.False(t, a.Read().Oriented, "no remotephone state yet")

	a = New(st, table{remote.TypeRemotePhone: json.RawMessage(`{"orientation":{"x":0,"y":0,"z":1,"w":0}}`)}, nil, nil)
	r = a.Read()
	assert.True(t, r.Connected)
	assert.True(t, r.Oriented)
	assert.Equal(t, remote.Quaternion{Z: 1}, r.State.Orientation)
}
