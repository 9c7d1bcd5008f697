package input

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mcdev12/vremote/go/internal/orientation"
	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/rs/zerolog/log"
)

// jsonEvent is one line of a JSON-lines stream, named after the DOM events
// a browser page would forward.
type jsonEvent struct {
	Type    string  `json:"type"`
	Fingers int     `json:"fingers"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	W       float64 `json:"w"`
	Alpha   float64 `json:"alpha"`
	Beta    float64 `json:"beta"`
	Gamma   float64 `json:"gamma"`
	Screen  float64 `json:"screen"`
}

// JSONLines reads newline-delimited JSON events from a reader, e.g. stdin
// piped from a browser bridge or a recorded session.
type JSONLines struct {
	r io.Reader
}

// NewJSONLines wraps r.
func NewJSONLines(r io.Reader) *JSONLines {
	return &JSONLines{r: r}
}

// Bind implements Source. Malformed lines are logged and skipped.
func (j *JSONLines) Bind(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(j.r)
		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			ev, err := ParseJSONEvent(raw)
			if err != nil {
				log.Warn().Err(err).Int("line", line).Msg("skipping input line")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Error().Err(err).Msg("failed to read input stream")
		}
	}()
	return out, nil
}

// ParseJSONEvent decodes a single JSON-lines record.
func ParseJSONEvent(raw []byte) (Event, error) {
	var je jsonEvent
	if err := json.Unmarshal(raw, &je); err != nil {
		return nil, fmt.Errorf("unmarshal input event: %w", err)
	}

	switch je.Type {
	case "touchstart":
		return TouchEvent{Phase: PhaseStart, Fingers: je.Fingers, X: je.X, Y: je.Y}, nil
	case "touchmove":
		return TouchEvent{Phase: PhaseMove, Fingers: je.Fingers, X: je.X, Y: je.Y}, nil
	case "touchend", "touchcancel":
		return TouchEvent{Phase: PhaseEnd, Fingers: je.Fingers, X: je.X, Y: je.Y}, nil
	case "orientation":
		return OrientationEvent{Orientation: remote.Quaternion{X: je.X, Y: je.Y, Z: je.Z, W: je.W}}, nil
	case "deviceorientation":
		q := orientation.FromDeviceOrientation(je.Alpha, je.Beta, je.Gamma, je.Screen)
		return OrientationEvent{Orientation: q}, nil
	case "":
		return nil, fmt.Errorf("missing event type")
	default:
		return nil, fmt.Errorf("unknown event type: %s", je.Type)
	}
}
