package synth

import (
	"fmt"
	"sort"

	"github.com/vsariola/tahti"
)

type renderEvent struct {
	sample     int64
	kind       int
	channel    int
	pitch      int
	velocity   int
	controller int
	value      int
}

const (
	eventOff = iota
	eventControl
	eventOn
)

const (
	renderChunk    = 1024
	maxTailSeconds = 10
)

// Render plays the score offline through a fresh synth and returns the
// rendered stereo buffer. Rendering is sample accurate: every event lands
// on the sample its tick maps to under the tempo map, with note offs
// dispatched before control changes before note ons within a sample. The
// buffer extends past the last event until the voices decay, capped at
// maxTailSeconds. A nil bank means the embedded default bank.
func Render(score tahti.Score, bank *Bank, progress func(float32)) (tahti.AudioBuffer, error) {
	if err := score.Validate(); err != nil {
		return nil, fmt.Errorf("rendering score: %w", err)
	}
	s := NewSynth(bank)
	var events []renderEvent
	anySolo := false
	for _, t := range score.Tracks {
		anySolo = anySolo || t.Solo
	}
	for _, t := range score.Tracks {
		if t.Mute || (anySolo && !t.Solo) {
			continue
		}
		if t.Program >= 0 {
			s.ProgramChange(t.Channel, t.Program)
		}
		for _, n := range t.Notes {
			on, err := score.TimeAt(n.Tick)
			if err != nil {
				return nil, err
			}
			off, err := score.TimeAt(n.End())
			if err != nil {
				return nil, err
			}
			events = append(events,
				renderEvent{sample: samplePos(on), kind: eventOn, channel: t.Channel, pitch: n.Pitch, velocity: n.Velocity},
				renderEvent{sample: samplePos(off), kind: eventOff, channel: t.Channel, pitch: n.Pitch})
		}
		for _, c := range t.Controls {
			micros, err := score.TimeAt(c.Tick)
			if err != nil {
				return nil, err
			}
			events = append(events, renderEvent{sample: samplePos(micros), kind: eventControl, channel: t.Channel, controller: c.Controller, value: c.Value})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].sample != events[j].sample {
			return events[i].sample < events[j].sample
		}
		return events[i].kind < events[j].kind
	})
	var end int64
	if len(events) > 0 {
		end = events[len(events)-1].sample
	}
	buf := make(tahti.AudioBuffer, 0, end+renderChunk)
	chunk := make(tahti.AudioBuffer, renderChunk)
	pos := int64(0)
	for ei := 0; ei < len(events); {
		for pos < events[ei].sample {
			n := min(int64(renderChunk), events[ei].sample-pos)
			s.ReadAudio(chunk[:n])
			buf = append(buf, chunk[:n]...)
			pos += n
			if progress != nil && end > 0 {
				progress(min(float32(pos)/float32(end), 1))
			}
		}
		for ei < len(events) && events[ei].sample <= pos {
			e := events[ei]
			switch e.kind {
			case eventOff:
				s.NoteOff(e.channel, e.pitch)
			case eventControl:
				s.ControlChange(e.channel, e.controller, e.value)
			case eventOn:
				s.NoteOn(e.channel, e.pitch, e.velocity)
			}
			ei++
		}
	}
	for tail := int64(0); tail < maxTailSeconds*tahti.SampleRate && s.Active() > 0; tail += renderChunk {
		s.ReadAudio(chunk)
		buf = append(buf, chunk...)
	}
	if progress != nil {
		progress(1)
	}
	return buf, nil
}

func samplePos(micros int64) int64 {
	return micros * tahti.SampleRate / 1000000
}
