package remote

// Quaternion is a screen-adjusted orientation sample.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityQuaternion is the orientation reported before any sample arrives.
var IdentityQuaternion = Quaternion{W: 1}

// Buttons holds the emulated controller buttons
type Buttons struct {
	Click bool `json:"click"`
	App   bool `json:"app"`
	Home  bool `json:"home"`
}

// Any reports whether at least one button is held.
func (b Buttons) Any() bool {
	return b.Click || b.App || b.Home
}

// Trackpad is a normalized position on the emulated pad, both axes in [0,1].
type Trackpad struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NoTouch is the trackpad value while nothing touches the pad. A real touch
// never reports it because positions are clamped to a small positive floor.
var NoTouch = Trackpad{}

// State is the snapshot exchanged between devices and read once per frame.
// Trackpad is only meaningful while Touching is true.
type State struct {
	Orientation Quaternion `json:"orientation"`
	Buttons     Buttons    `json:"buttons"`
	Trackpad    Trackpad   `json:"trackpad"`
	Touching    bool       `json:"touching"`
}

// DefaultState returns the zeroed state used when nothing has been received.
func DefaultState() State {
	return State{Orientation: IdentityQuaternion, Trackpad: NoTouch}
}

// TrackpadPosition returns the trackpad position and whether it is valid.
func (s State) TrackpadPosition() (Trackpad, bool) {
	if !s.Touching {
		return NoTouch, false
	}
	return s.Trackpad, true
}
