package tahti

import "fmt"

// Score is everything the sequencer plays: the tick resolution, the tempo
// and time signature maps, and the tracks holding notes and control changes.
// All musical time is expressed in ticks; TicksPerBeat sets how many ticks
// one beat (quarter note) divides into. Scores are passed around by deep
// copy, so the playback side never sees a score mutate under it.
type Score struct {
	TicksPerBeat   int
	TempoMap       TempoMap         `yaml:",flow"`
	TimeSignatures TimeSignatureMap `yaml:",flow"`
	Tracks         []Track
}

// Copy makes a deep copy of a Score.
func (s *Score) Copy() Score {
	tempo := make(TempoMap, len(s.TempoMap))
	copy(tempo, s.TempoMap)
	signatures := make(TimeSignatureMap, len(s.TimeSignatures))
	copy(signatures, s.TimeSignatures)
	tracks := make([]Track, len(s.Tracks))
	for i, t := range s.Tracks {
		tracks[i] = t.Copy()
	}
	return Score{
		TicksPerBeat:   s.TicksPerBeat,
		TempoMap:       tempo,
		TimeSignatures: signatures,
		Tracks:         tracks,
	}
}

// Validate checks that the score can be played: positive tick resolution,
// well formed tempo and time signature maps, and valid sorted notes.
func (s *Score) Validate() error {
	if s.TicksPerBeat < 1 {
		return fmt.Errorf("score has %d ticks per beat, should be >= 1", s.TicksPerBeat)
	}
	if err := s.TempoMap.Validate(); err != nil {
		return err
	}
	if err := s.TimeSignatures.Validate(); err != nil {
		return err
	}
	for i := range s.Tracks {
		if err := s.Tracks[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TimeAt returns the time of the given tick in microseconds from the start
// of the score.
func (s *Score) TimeAt(tick int) (int64, error) {
	return s.TempoMap.TimeAt(tick, s.TicksPerBeat)
}

// TickAt returns the tick playing at the given time in microseconds from the
// start of the score.
func (s *Score) TickAt(micros int64) (int, error) {
	return s.TempoMap.TickAt(micros, s.TicksPerBeat)
}

// TicksPerMeasureAt returns the length in ticks of the measure containing
// the given tick.
func (s *Score) TicksPerMeasureAt(tick int) (int, error) {
	return s.TimeSignatures.TicksPerMeasureAt(tick, s.TicksPerBeat)
}

// EndTick returns the first tick after all tracks have finished playing, 0
// for an empty score.
func (s *Score) EndTick() int {
	ret := 0
	for i := range s.Tracks {
		ret = max(ret, s.Tracks[i].EndTick())
	}
	return ret
}
