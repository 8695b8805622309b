// Package midifile reads and writes scores as standard MIDI files.
package midifile

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/vsariola/tahti"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	defaultTicksPerBeat  = 480
	defaultMicrosPerBeat = 500000
)

type (
	openKey  struct{ channel, key uint8 }
	openNote struct{ tick, velocity int }

	trackEvent struct {
		tick int
		kind int
		msg  []byte
	}
)

const (
	eventOff = iota
	eventControl
	eventOn
)

// Read parses a standard MIDI file into a score. Tempo and meter meta
// events land in the maps regardless of which file track carries them;
// note on/offs are paired into notes, the first program change on a track
// becomes the track program and control changes are kept as scheduled
// controls. File tracks with nothing but meta events produce no score
// track.
func Read(r io.Reader) (tahti.Score, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return tahti.Score{}, fmt.Errorf("reading midi file: %w", err)
	}
	score := tahti.Score{TicksPerBeat: defaultTicksPerBeat}
	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok && mt.Resolution() > 0 {
		score.TicksPerBeat = int(mt.Resolution())
	}
	for _, events := range s.Tracks {
		track := tahti.Track{Program: -1}
		open := make(map[openKey]openNote)
		channelSet := false
		setChannel := func(channel uint8) {
			if !channelSet {
				track.Channel = int(channel)
				channelSet = true
			}
		}
		tick := 0
		for _, ev := range events {
			tick += int(ev.Delta)
			msg := ev.Message
			if mpb, ok := tempoMicros(msg); ok {
				if mpb > 0 {
					score.TempoMap = append(score.TempoMap, tahti.TempoChange{Tick: tick, MicrosPerBeat: mpb})
				}
				continue
			}
			var channel, key, velocity, controller, value, program, num, denom uint8
			var name string
			switch {
			case msg.GetNoteStart(&channel, &key, &velocity):
				k := openKey{channel, key}
				if n, ok := open[k]; ok {
					track.Notes = append(track.Notes, closeNote(n, k, tick))
				}
				open[k] = openNote{tick: tick, velocity: int(velocity)}
				setChannel(channel)
			case msg.GetNoteEnd(&channel, &key):
				k := openKey{channel, key}
				if n, ok := open[k]; ok {
					track.Notes = append(track.Notes, closeNote(n, k, tick))
					delete(open, k)
				}
			case msg.GetProgramChange(&channel, &program):
				if track.Program < 0 {
					track.Program = int(program)
				}
				setChannel(channel)
			case msg.GetControlChange(&channel, &controller, &value):
				track.Controls = append(track.Controls, tahti.Control{Tick: tick, Controller: int(controller), Value: int(value)})
				setChannel(channel)
			case msg.GetMetaTrackName(&name):
				track.Name = name
			case msg.GetMetaMeter(&num, &denom):
				score.TimeSignatures = append(score.TimeSignatures, tahti.TimeSignature{Tick: tick, Numerator: int(num), Denominator: int(denom)})
			}
		}
		for k, n := range open {
			track.Notes = append(track.Notes, closeNote(n, k, tick))
		}
		sort.SliceStable(track.Notes, func(i, j int) bool { return track.Notes[i].Tick < track.Notes[j].Tick })
		sort.SliceStable(track.Controls, func(i, j int) bool { return track.Controls[i].Tick < track.Controls[j].Tick })
		if len(track.Notes) > 0 || len(track.Controls) > 0 || track.Program >= 0 || track.Name != "" {
			if track.Name == "" {
				track.Name = fmt.Sprintf("Track%02d", len(score.Tracks)+1)
			}
			score.Tracks = append(score.Tracks, track)
		}
	}
	score.TempoMap = normalizeTempo(score.TempoMap)
	score.TimeSignatures = normalizeSignatures(score.TimeSignatures)
	return score, nil
}

func ReadFile(path string) (tahti.Score, error) {
	f, err := os.Open(path)
	if err != nil {
		return tahti.Score{}, err
	}
	defer f.Close()
	return Read(f)
}

// Write serializes the score as a format 1 standard MIDI file: a conductor
// track carrying the tempo and meter metas, then one file track per score
// track with its name, program change, notes and controls. All channel
// events of a track go out on the track channel. Note offs are written
// before control changes before note ons at equal ticks, matching the
// playback dispatch order.
func Write(w io.Writer, score tahti.Score) error {
	if score.TicksPerBeat <= 0 || score.TicksPerBeat >= 0x8000 {
		return fmt.Errorf("invalid ticks per beat %d", score.TicksPerBeat)
	}
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(uint16(score.TicksPerBeat))

	var metas []trackEvent
	for _, c := range score.TempoMap {
		metas = append(metas, trackEvent{tick: c.Tick, msg: tempoMessage(c.MicrosPerBeat)})
	}
	for _, s := range score.TimeSignatures {
		metas = append(metas, trackEvent{tick: s.Tick, msg: smf.MetaMeter(uint8(s.Numerator), uint8(s.Denominator))})
	}
	sort.SliceStable(metas, func(i, j int) bool { return metas[i].tick < metas[j].tick })
	var conductor smf.Track
	prev := 0
	for _, m := range metas {
		conductor.Add(uint32(m.tick-prev), m.msg)
		prev = m.tick
	}
	conductor.Close(0)
	if err := sm.Add(conductor); err != nil {
		return fmt.Errorf("adding conductor track: %w", err)
	}

	for _, t := range score.Tracks {
		ch := uint8(t.Channel)
		var events []trackEvent
		for _, n := range t.Notes {
			events = append(events,
				trackEvent{tick: n.Tick, kind: eventOn, msg: midi.NoteOn(ch, uint8(n.Pitch), uint8(n.Velocity))},
				trackEvent{tick: n.End(), kind: eventOff, msg: midi.NoteOff(ch, uint8(n.Pitch))})
		}
		for _, c := range t.Controls {
			events = append(events, trackEvent{tick: c.Tick, kind: eventControl, msg: midi.ControlChange(ch, uint8(c.Controller), uint8(c.Value))})
		}
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].tick != events[j].tick {
				return events[i].tick < events[j].tick
			}
			return events[i].kind < events[j].kind
		})
		var track smf.Track
		if t.Name != "" {
			track.Add(0, smf.MetaTrackSequenceName(t.Name))
		}
		if t.Program >= 0 {
			track.Add(0, midi.ProgramChange(ch, uint8(t.Program)))
		}
		prev := 0
		for _, e := range events {
			track.Add(uint32(e.tick-prev), e.msg)
			prev = e.tick
		}
		track.Close(0)
		if err := sm.Add(track); err != nil {
			return fmt.Errorf("adding track %v: %w", t.Name, err)
		}
	}
	if _, err := sm.WriteTo(w); err != nil {
		return fmt.Errorf("writing midi file: %w", err)
	}
	return nil
}

func WriteFile(path string, score tahti.Score) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, score); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func closeNote(n openNote, k openKey, end int) tahti.Note {
	return tahti.Note{
		Tick:     n.tick,
		Length:   max(end-n.tick, 1),
		Pitch:    int(k.key),
		Velocity: n.velocity,
		Channel:  int(k.channel),
	}
}

// tempoMicros parses a tempo meta event (FF 51 03) directly to integer
// microseconds per beat, so tempos round trip exactly.
func tempoMicros(msg smf.Message) (int, bool) {
	if len(msg) >= 6 && msg[0] == 0xFF && msg[1] == 0x51 && msg[2] == 0x03 {
		return int(msg[3])<<16 | int(msg[4])<<8 | int(msg[5]), true
	}
	return 0, false
}

func tempoMessage(microsPerBeat int) smf.Message {
	return smf.Message([]byte{
		0xFF, 0x51, 0x03,
		byte(microsPerBeat >> 16),
		byte(microsPerBeat >> 8),
		byte(microsPerBeat),
	})
}

func normalizeTempo(m tahti.TempoMap) tahti.TempoMap {
	sort.SliceStable(m, func(i, j int) bool { return m[i].Tick < m[j].Tick })
	out := m[:0]
	for _, c := range m {
		if len(out) > 0 && out[len(out)-1].Tick == c.Tick {
			out[len(out)-1] = c
		} else {
			out = append(out, c)
		}
	}
	if len(out) == 0 || out[0].Tick != 0 {
		out = append(tahti.TempoMap{{Tick: 0, MicrosPerBeat: defaultMicrosPerBeat}}, out...)
	}
	return out
}

func normalizeSignatures(m tahti.TimeSignatureMap) tahti.TimeSignatureMap {
	sort.SliceStable(m, func(i, j int) bool { return m[i].Tick < m[j].Tick })
	out := m[:0]
	for _, s := range m {
		if len(out) > 0 && out[len(out)-1].Tick == s.Tick {
			out[len(out)-1] = s
		} else {
			out = append(out, s)
		}
	}
	if len(out) == 0 || out[0].Tick != 0 {
		out = append(tahti.TimeSignatureMap{{Tick: 0, Numerator: 4, Denominator: 4}}, out...)
	}
	return out
}
