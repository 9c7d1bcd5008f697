package gesture

import "time"

// Config holds the empirically tuned thresholds of the classifier.
type Config struct {
	// TapWindow is how long a contact may last and still count as a tap.
	TapWindow time.Duration `yaml:"tap_window"`
	// PressThreshold is how long a contact must last to become a press.
	PressThreshold time.Duration `yaml:"press_threshold"`
	// TapHold is how long a tap keeps its button down.
	TapHold time.Duration `yaml:"tap_hold"`
	// Sensitivity converts screen pixels into trackpad units.
	Sensitivity float64 `yaml:"sensitivity"`
	// Epsilon is the lowest trackpad coordinate a real touch reports.
	Epsilon float64 `yaml:"epsilon"`
}

// DefaultConfig returns the thresholds used by the reference controller.
func DefaultConfig() Config {
	return Config{
		TapWindow:      100 * time.Millisecond,
		PressThreshold: 300 * time.Millisecond,
		TapHold:        20 * time.Millisecond,
		Sensitivity:    0.025,
		Epsilon:        0.001,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TapWindow <= 0 {
		c.TapWindow = d.TapWindow
	}
	if c.PressThreshold <= 0 {
		c.PressThreshold = d.PressThreshold
	}
	if c.TapHold <= 0 {
		c.TapHold = d.TapHold
	}
	if c.Sensitivity <= 0 {
		c.Sensitivity = d.Sensitivity
	}
	if c.Epsilon <= 0 {
		c.Epsilon = d.Epsilon
	}
	return c
}
