package midifile_test

import (
	"bytes"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/midifile"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// smfBytes builds a single track file the way an external program would,
// so the reader is tested against the library encoder and not our writer.
func smfBytes(t *testing.T, resolution int, build func(track *smf.Track)) []byte {
	t.Helper()
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(uint16(resolution))
	var track smf.Track
	build(&track)
	track.Close(0)
	if err := sm.Add(track); err != nil {
		t.Fatalf("adding track: %v", err)
	}
	var buf bytes.Buffer
	if _, err := sm.WriteTo(&buf); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	return buf.Bytes()
}

func TestRoundTripFile(t *testing.T) {
	score := tahti.Score{
		TicksPerBeat: 960,
		TempoMap: tahti.TempoMap{
			{Tick: 0, MicrosPerBeat: 500000},
			{Tick: 1920, MicrosPerBeat: 333333},
		},
		TimeSignatures: tahti.TimeSignatureMap{
			{Tick: 0, Numerator: 4, Denominator: 4},
			{Tick: 1920, Numerator: 3, Denominator: 4},
		},
		Tracks: []tahti.Track{
			{
				Name:    "lead",
				Channel: 0,
				Program: 5,
				Notes: []tahti.Note{
					{Tick: 0, Length: 480, Pitch: 60, Velocity: 100},
					{Tick: 480, Length: 240, Pitch: 64, Velocity: 90},
				},
				Controls: []tahti.Control{{Tick: 240, Controller: 7, Value: 100}},
			},
			{
				Name:    "drums",
				Channel: 9,
				Program: -1,
				Notes:   []tahti.Note{{Tick: 0, Length: 1, Pitch: 36, Velocity: 127, Channel: 9}},
			},
		},
	}
	path := filepath.Join(t.TempDir(), "score.mid")
	if err := midifile.WriteFile(path, score); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	parsed, err := midifile.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if parsed.TicksPerBeat != 960 {
		t.Errorf("ticks per beat = %d, expected 960", parsed.TicksPerBeat)
	}
	if !reflect.DeepEqual(parsed.TempoMap, score.TempoMap) {
		t.Errorf("tempo map = %v, expected tempos to round trip exactly", parsed.TempoMap)
	}
	if !reflect.DeepEqual(parsed.TimeSignatures, score.TimeSignatures) {
		t.Errorf("time signatures = %v, expected %v", parsed.TimeSignatures, score.TimeSignatures)
	}
	if len(parsed.Tracks) != 2 {
		t.Fatalf("%d tracks, expected the conductor track to produce no score track", len(parsed.Tracks))
	}
	for i := range score.Tracks {
		if !reflect.DeepEqual(parsed.Tracks[i], score.Tracks[i]) {
			t.Errorf("track %d = %+v, expected %+v", i, parsed.Tracks[i], score.Tracks[i])
		}
	}
}

func TestReadDefaultsWhenMetasMissing(t *testing.T) {
	b := smfBytes(t, 96, func(track *smf.Track) {
		track.Add(0, midi.NoteOn(0, 60, 100))
		track.Add(96, midi.NoteOff(0, 60))
	})
	score, err := midifile.Read(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if score.TicksPerBeat != 96 {
		t.Errorf("ticks per beat = %d, expected 96", score.TicksPerBeat)
	}
	if want := (tahti.TempoMap{{Tick: 0, MicrosPerBeat: 500000}}); !reflect.DeepEqual(score.TempoMap, want) {
		t.Errorf("tempo map = %v, expected the default %v", score.TempoMap, want)
	}
	if want := (tahti.TimeSignatureMap{{Tick: 0, Numerator: 4, Denominator: 4}}); !reflect.DeepEqual(score.TimeSignatures, want) {
		t.Errorf("time signatures = %v, expected the default %v", score.TimeSignatures, want)
	}
	if len(score.Tracks) != 1 || score.Tracks[0].Name != "Track01" {
		t.Fatalf("tracks = %+v, expected one track with a generated name", score.Tracks)
	}
	if score.Tracks[0].Program != -1 {
		t.Errorf("program = %d, expected -1 when the file has no program change", score.Tracks[0].Program)
	}
	if err := score.Validate(); err != nil {
		t.Errorf("parsed score does not validate: %v", err)
	}
}

func TestReadClosesOpenNotesAtTrackEnd(t *testing.T) {
	b := smfBytes(t, 480, func(track *smf.Track) {
		track.Add(0, midi.NoteOn(0, 60, 100))
		track.Add(480, midi.NoteOn(0, 64, 100))
	})
	score, err := midifile.Read(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []tahti.Note{
		{Tick: 0, Length: 480, Pitch: 60, Velocity: 100},
		{Tick: 480, Length: 1, Pitch: 64, Velocity: 100},
	}
	if got := score.Tracks[0].Notes; !reflect.DeepEqual(got, want) {
		t.Errorf("notes = %v, expected open notes to close at the track end, %v", got, want)
	}
}

func TestReadNoteOnVelocityZeroEndsNote(t *testing.T) {
	b := smfBytes(t, 480, func(track *smf.Track) {
		track.Add(0, midi.NoteOn(0, 60, 100))
		track.Add(480, midi.NoteOn(0, 60, 0))
	})
	score, err := midifile.Read(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []tahti.Note{{Tick: 0, Length: 480, Pitch: 60, Velocity: 100}}
	if got := score.Tracks[0].Notes; !reflect.DeepEqual(got, want) {
		t.Errorf("notes = %v, expected %v", got, want)
	}
}

func TestReadRetriggerClosesPrevious(t *testing.T) {
	b := smfBytes(t, 480, func(track *smf.Track) {
		track.Add(0, midi.NoteOn(0, 60, 100))
		track.Add(240, midi.NoteOn(0, 60, 100))
		track.Add(240, midi.NoteOff(0, 60))
	})
	score, err := midifile.Read(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []tahti.Note{
		{Tick: 0, Length: 240, Pitch: 60, Velocity: 100},
		{Tick: 240, Length: 240, Pitch: 60, Velocity: 100},
	}
	if got := score.Tracks[0].Notes; !reflect.DeepEqual(got, want) {
		t.Errorf("notes = %v, expected %v", got, want)
	}
}

// Two notes of the same pitch back to back: the off of the first must be
// written before the on of the second, or reading the file back would
// truncate the second note.
func TestWriteAdjacentSamePitch(t *testing.T) {
	score := tahti.Score{
		TicksPerBeat:   480,
		TempoMap:       tahti.TempoMap{{Tick: 0, MicrosPerBeat: 500000}},
		TimeSignatures: tahti.TimeSignatureMap{{Tick: 0, Numerator: 4, Denominator: 4}},
		Tracks: []tahti.Track{{
			Name:    "lead",
			Channel: 0,
			Program: -1,
			Notes: []tahti.Note{
				{Tick: 0, Length: 480, Pitch: 60, Velocity: 100},
				{Tick: 480, Length: 480, Pitch: 60, Velocity: 100},
			},
		}},
	}
	var buf bytes.Buffer
	if err := midifile.Write(&buf, score); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	parsed, err := midifile.Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := parsed.Tracks[0].Notes; !reflect.DeepEqual(got, score.Tracks[0].Notes) {
		t.Errorf("notes = %v, expected both notes to keep their full length", got)
	}
}

func TestWriteRejectsBadResolution(t *testing.T) {
	for _, tpb := range []int{0, -480, 0x8000} {
		score := tahti.Score{TicksPerBeat: tpb}
		if err := midifile.Write(&bytes.Buffer{}, score); err == nil {
			t.Errorf("Write accepted %d ticks per beat", tpb)
		}
	}
}
