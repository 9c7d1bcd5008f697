package input

import (
	"fmt"
	"os"
)

// SourceConfig names an input source.
type SourceConfig struct {
	// Kind is "stdin", "evdev", or a path to a JSON-lines file.
	Kind   string
	Device string
	Width  int
	Height int
	Grab   bool
}

// Open returns the configured source and a function releasing it.
func Open(cfg SourceConfig) (Source, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Kind {
	case "", "stdin":
		return NewJSONLines(os.Stdin), noop, nil
	case "evdev":
		if cfg.Device == "" {
			return nil, nil, fmt.Errorf("evdev source requires a device path")
		}
		return &Evdev{
			Path:   cfg.Device,
			Width:  float64(cfg.Width),
			Height: float64(cfg.Height),
			Grab:   cfg.Grab,
		}, noop, nil
	default:
		f, err := os.Open(cfg.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("open input file: %w", err)
		}
		return NewJSONLines(f), f.Close, nil
	}
}
