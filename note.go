package tahti

import "fmt"

type (
	// Note is a single note of a track: Pitch sounding from Tick for Length
	// ticks. Length is always at least 1, so the note off of a note never
	// lands on the same tick as its note on. Channel is the MIDI channel the
	// note plays on; tracks keep their notes sorted by tick.
	Note struct {
		Tick     int
		Length   int
		Pitch    int
		Velocity int
		Channel  int `yaml:",omitempty"`
	}

	// Control is a MIDI control change scheduled at a tick, for example
	// sustain pedal (controller 64) or channel volume (controller 7).
	Control struct {
		Tick       int
		Controller int
		Value      int
	}
)

// End returns the tick at which the note stops sounding; the first tick the
// note no longer occupies.
func (n Note) End() int {
	return n.Tick + n.Length
}

func (n Note) Validate() error {
	if n.Tick < 0 {
		return fmt.Errorf("note at tick %d, should be >= 0", n.Tick)
	}
	if n.Length < 1 {
		return fmt.Errorf("note at tick %d has length %d, should be >= 1", n.Tick, n.Length)
	}
	if n.Pitch < 0 || n.Pitch > 127 {
		return fmt.Errorf("note at tick %d has pitch %d, should be 0-127", n.Tick, n.Pitch)
	}
	if n.Velocity < 0 || n.Velocity > 127 {
		return fmt.Errorf("note at tick %d has velocity %d, should be 0-127", n.Tick, n.Velocity)
	}
	if n.Channel < 0 || n.Channel > 15 {
		return fmt.Errorf("note at tick %d has channel %d, should be 0-15", n.Tick, n.Channel)
	}
	return nil
}

func (c Control) Validate() error {
	if c.Tick < 0 {
		return fmt.Errorf("control change at tick %d, should be >= 0", c.Tick)
	}
	if c.Controller < 0 || c.Controller > 127 {
		return fmt.Errorf("control change at tick %d has controller %d, should be 0-127", c.Tick, c.Controller)
	}
	if c.Value < 0 || c.Value > 127 {
		return fmt.Errorf("control change at tick %d has value %d, should be 0-127", c.Tick, c.Value)
	}
	return nil
}
