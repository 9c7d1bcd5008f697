package input

// Linux input event codes used by the multitouch (type B) protocol.
const (
	evSyn = 0x00
	evAbs = 0x03

	synReport = 0x00

	absMTSlot       = 0x2f
	absMTPositionX  = 0x35
	absMTPositionY  = 0x36
	absMTTrackingID = 0x39
)

const maxSlots = 10

type slot struct {
	active bool
	x, y   int32
}

// axisRange maps raw device units onto screen pixels.
type axisRange struct {
	min, max int32
	pixels   float64
}

func (r axisRange) scale(v int32) float64 {
	if r.max <= r.min {
		return float64(v)
	}
	return float64(v-r.min) / float64(r.max-r.min) * r.pixels
}

// mtDecoder folds raw multitouch slot updates into TouchEvents, one per
// SYN_REPORT frame at most.
type mtDecoder struct {
	slots   [maxSlots]slot
	current int
	fingers int
	lastX   float64
	lastY   float64
	xRange  axisRange
	yRange  axisRange
}

func newMTDecoder(x, y axisRange) *mtDecoder {
	return &mtDecoder{xRange: x, yRange: y}
}

// feed consumes one raw event and returns a touch event when a frame closes
// with a visible change.
func (d *mtDecoder) feed(etype, code uint16, value int32) (TouchEvent, bool) {
	switch etype {
	case evAbs:
		d.abs(code, value)
	case evSyn:
		if code == synReport {
			return d.frame()
		}
	}
	return TouchEvent{}, false
}

func (d *mtDecoder) abs(code uint16, value int32) {
	switch code {
	case absMTSlot:
		if value >= 0 && value < maxSlots {
			d.current = int(value)
		}
	case absMTTrackingID:
		d.slots[d.current].active = value >= 0
	case absMTPositionX:
		d.slots[d.current].x = value
	case absMTPositionY:
		d.slots[d.current].y = value
	}
}

func (d *mtDecoder) frame() (TouchEvent, bool) {
	fingers := 0
	primary := -1
	for i, s := range d.slots {
		if !s.active {
			continue
		}
		fingers++
		if primary < 0 {
			primary = i
		}
	}

	ev := TouchEvent{Fingers: fingers, X: d.lastX, Y: d.lastY}
	if primary >= 0 {
		ev.X = d.xRange.scale(d.slots[primary].x)
		ev.Y = d.yRange.scale(d.slots[primary].y)
	}

	prev := d.fingers
	d.fingers = fingers
	moved := ev.X != d.lastX || ev.Y != d.lastY
	d.lastX, d.lastY = ev.X, ev.Y

	switch {
	case fingers > prev:
		ev.Phase = PhaseStart
	case fingers < prev:
		ev.Phase = PhaseEnd
	case fingers > 0 && moved:
		ev.Phase = PhaseMove
	default:
		return TouchEvent{}, false
	}
	return ev, true
}
