package tahti

import (
	"errors"
	"fmt"
)

type (
	// TempoChange sets the tempo from Tick onwards, expressed as microseconds
	// per beat (quarter note). 500000 microseconds per beat is 120 BPM.
	TempoChange struct {
		Tick          int
		MicrosPerBeat int
	}

	// TempoMap is the list of tempo changes of a score, sorted by tick. A
	// valid map has its first change exactly at tick 0, so that every tick
	// has a defined tempo.
	TempoMap []TempoChange

	// TimeSignature sets the meter from Tick onwards. Numerator is beats per
	// measure, Denominator the note value of a beat (4 = quarter note).
	TimeSignature struct {
		Tick        int
		Numerator   int
		Denominator int
	}

	// TimeSignatureMap is the list of time signature changes of a score,
	// sorted by tick, first change at tick 0. Every time signature change
	// starts a new measure, even if the previous measure was left incomplete.
	TimeSignatureMap []TimeSignature
)

// ErrMalformedMap is returned when a tempo or time signature map is empty,
// does not start at tick 0, is out of order, or contains nonpositive values.
// All map queries report it through wrapping, so callers can test for it with
// errors.Is.
var ErrMalformedMap = errors.New("malformed map")

// BPM returns the tempo of the change in beats per minute.
func (c TempoChange) BPM() float64 {
	if c.MicrosPerBeat <= 0 {
		return 0
	}
	return 60e6 / float64(c.MicrosPerBeat)
}

func (m TempoMap) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("%w: no tempo changes", ErrMalformedMap)
	}
	if m[0].Tick != 0 {
		return fmt.Errorf("%w: first tempo change at tick %d, should be 0", ErrMalformedMap, m[0].Tick)
	}
	prev := -1
	for _, c := range m {
		if c.Tick <= prev {
			return fmt.Errorf("%w: tempo changes out of order at tick %d", ErrMalformedMap, c.Tick)
		}
		if c.MicrosPerBeat <= 0 {
			return fmt.Errorf("%w: tempo change at tick %d has %d microseconds per beat", ErrMalformedMap, c.Tick, c.MicrosPerBeat)
		}
		prev = c.Tick
	}
	return nil
}

// At returns the tempo change in effect at the given tick.
func (m TempoMap) At(tick int) (TempoChange, error) {
	if len(m) == 0 || m[0].Tick != 0 || tick < 0 {
		return TempoChange{}, fmt.Errorf("%w: no tempo defined for tick %d", ErrMalformedMap, tick)
	}
	ret := m[0]
	for _, c := range m[1:] {
		if c.Tick > tick {
			break
		}
		ret = c
	}
	return ret, nil
}

// TimeAt returns the time of the given tick as microseconds from the start of
// the score, walking the tempo segments before the tick and accumulating
// their durations in integer microseconds. Each segment contributes
// ticks * MicrosPerBeat / ticksPerBeat, truncated, so TickAt can walk the
// same segments and land back within one tick.
func (m TempoMap) TimeAt(tick, ticksPerBeat int) (int64, error) {
	if len(m) == 0 || m[0].Tick != 0 || tick < 0 || ticksPerBeat <= 0 {
		return 0, fmt.Errorf("%w: cannot compute time at tick %d", ErrMalformedMap, tick)
	}
	var micros int64
	for i, c := range m {
		if c.MicrosPerBeat <= 0 {
			return 0, fmt.Errorf("%w: tempo change at tick %d has %d microseconds per beat", ErrMalformedMap, c.Tick, c.MicrosPerBeat)
		}
		end := tick
		if i+1 < len(m) && m[i+1].Tick < tick {
			end = m[i+1].Tick
		}
		if end <= c.Tick {
			break
		}
		micros += int64(end-c.Tick) * int64(c.MicrosPerBeat) / int64(ticksPerBeat)
	}
	return micros, nil
}

// TickAt is the inverse of TimeAt: it returns the tick playing at the given
// time. Within a segment the remainder is converted with rounding, so small
// drifts do not accumulate across repeated conversions.
func (m TempoMap) TickAt(micros int64, ticksPerBeat int) (int, error) {
	if len(m) == 0 || m[0].Tick != 0 || micros < 0 || ticksPerBeat <= 0 {
		return 0, fmt.Errorf("%w: cannot compute tick at %d us", ErrMalformedMap, micros)
	}
	var acc int64
	for i, c := range m {
		if c.MicrosPerBeat <= 0 {
			return 0, fmt.Errorf("%w: tempo change at tick %d has %d microseconds per beat", ErrMalformedMap, c.Tick, c.MicrosPerBeat)
		}
		if i+1 < len(m) {
			segment := int64(m[i+1].Tick-c.Tick) * int64(c.MicrosPerBeat) / int64(ticksPerBeat)
			if acc+segment <= micros {
				acc += segment
				continue
			}
		}
		delta := (micros-acc)*int64(ticksPerBeat) + int64(c.MicrosPerBeat)/2
		return c.Tick + int(delta/int64(c.MicrosPerBeat)), nil
	}
	return m[len(m)-1].Tick, nil
}

func (m TimeSignatureMap) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("%w: no time signatures", ErrMalformedMap)
	}
	if m[0].Tick != 0 {
		return fmt.Errorf("%w: first time signature at tick %d, should be 0", ErrMalformedMap, m[0].Tick)
	}
	prev := -1
	for _, s := range m {
		if s.Tick <= prev {
			return fmt.Errorf("%w: time signatures out of order at tick %d", ErrMalformedMap, s.Tick)
		}
		if s.Numerator <= 0 || s.Denominator <= 0 {
			return fmt.Errorf("%w: time signature %d/%d at tick %d", ErrMalformedMap, s.Numerator, s.Denominator, s.Tick)
		}
		prev = s.Tick
	}
	return nil
}

// At returns the time signature in effect at the given tick.
func (m TimeSignatureMap) At(tick int) (TimeSignature, error) {
	if len(m) == 0 || m[0].Tick != 0 || tick < 0 {
		return TimeSignature{}, fmt.Errorf("%w: no time signature defined for tick %d", ErrMalformedMap, tick)
	}
	ret := m[0]
	for _, s := range m[1:] {
		if s.Tick > tick {
			break
		}
		ret = s
	}
	return ret, nil
}

// TicksPerMeasureAt returns the length of the measure containing the given
// tick: ticksPerBeat * Numerator * 4 / Denominator. With 480 ticks per beat a
// 4/4 measure is 1920 ticks and a 6/8 measure 1440 ticks.
func (m TimeSignatureMap) TicksPerMeasureAt(tick, ticksPerBeat int) (int, error) {
	if ticksPerBeat <= 0 {
		return 0, fmt.Errorf("%w: %d ticks per beat", ErrMalformedMap, ticksPerBeat)
	}
	sig, err := m.At(tick)
	if err != nil {
		return 0, err
	}
	ret := ticksPerBeat * sig.Numerator * 4 / sig.Denominator
	if ret <= 0 {
		return 0, fmt.Errorf("%w: time signature %d/%d gives empty measures", ErrMalformedMap, sig.Numerator, sig.Denominator)
	}
	return ret, nil
}

// MeasureBeatAt returns the zero based measure and beat numbers of the given
// tick, counting a new measure from every time signature change.
func (m TimeSignatureMap) MeasureBeatAt(tick, ticksPerBeat int) (measure, beat int, err error) {
	if err := m.Validate(); err != nil {
		return 0, 0, err
	}
	if tick < 0 || ticksPerBeat <= 0 {
		return 0, 0, fmt.Errorf("%w: cannot compute measure at tick %d", ErrMalformedMap, tick)
	}
	for i, sig := range m {
		ticksPerMeasure := ticksPerBeat * sig.Numerator * 4 / sig.Denominator
		if ticksPerMeasure <= 0 {
			return 0, 0, fmt.Errorf("%w: time signature %d/%d gives empty measures", ErrMalformedMap, sig.Numerator, sig.Denominator)
		}
		if i+1 < len(m) && m[i+1].Tick <= tick {
			length := m[i+1].Tick - sig.Tick
			measure += (length + ticksPerMeasure - 1) / ticksPerMeasure
			continue
		}
		offset := tick - sig.Tick
		measure += offset / ticksPerMeasure
		beat = offset % ticksPerMeasure * sig.Denominator / 4 / ticksPerBeat
		break
	}
	return measure, beat, nil
}
