package tahti_test

import (
	"testing"

	"github.com/vsariola/tahti"
)

func testScore() tahti.Score {
	return tahti.Score{
		TicksPerBeat:   480,
		TempoMap:       tahti.TempoMap{{Tick: 0, MicrosPerBeat: 500000}},
		TimeSignatures: tahti.TimeSignatureMap{{Tick: 0, Numerator: 4, Denominator: 4}},
		Tracks: []tahti.Track{
			{Name: "Lead", Channel: 0, Program: 0, Notes: []tahti.Note{
				{Tick: 0, Length: 480, Pitch: 60, Velocity: 100},
				{Tick: 480, Length: 240, Pitch: 64, Velocity: 100},
			}},
			{Name: "Bass", Channel: 1, Program: 32, Notes: []tahti.Note{
				{Tick: 0, Length: 960, Pitch: 36, Velocity: 90},
			}},
		},
	}
}

func TestScoreCopy(t *testing.T) {
	s := testScore()
	c := s.Copy()
	c.Tracks[0].Notes[0].Pitch = 72
	c.TempoMap[0].MicrosPerBeat = 250000
	c.Tracks[1].Name = "Renamed"
	if s.Tracks[0].Notes[0].Pitch != 60 {
		t.Errorf("mutating the copy changed the original note")
	}
	if s.TempoMap[0].MicrosPerBeat != 500000 {
		t.Errorf("mutating the copy changed the original tempo map")
	}
	if s.Tracks[1].Name != "Bass" {
		t.Errorf("mutating the copy changed the original track")
	}
}

func TestScoreValidate(t *testing.T) {
	s := testScore()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	bad := s.Copy()
	bad.Tracks[0].Notes[0].Pitch = 128
	if err := bad.Validate(); err == nil {
		t.Errorf("Validate accepted pitch 128")
	}
	bad = s.Copy()
	bad.Tracks[0].Notes = []tahti.Note{
		{Tick: 480, Length: 480, Pitch: 60, Velocity: 100},
		{Tick: 0, Length: 480, Pitch: 64, Velocity: 100},
	}
	if err := bad.Validate(); err == nil {
		t.Errorf("Validate accepted unsorted notes")
	}
	bad = s.Copy()
	bad.Tracks[0].Notes[0].Length = 0
	if err := bad.Validate(); err == nil {
		t.Errorf("Validate accepted a zero length note")
	}
	bad = s.Copy()
	bad.TempoMap = nil
	if err := bad.Validate(); err == nil {
		t.Errorf("Validate accepted an empty tempo map")
	}
}

func TestScoreEndTick(t *testing.T) {
	s := testScore()
	if got := s.EndTick(); got != 960 {
		t.Errorf("EndTick() = %d, expected 960", got)
	}
	empty := tahti.Score{TicksPerBeat: 480}
	if got := empty.EndTick(); got != 0 {
		t.Errorf("EndTick() of empty score = %d, expected 0", got)
	}
}

func TestTrackAddNote(t *testing.T) {
	track := tahti.Track{}
	track.AddNote(tahti.Note{Tick: 960, Length: 480, Pitch: 60, Velocity: 100})
	track.AddNote(tahti.Note{Tick: 0, Length: 480, Pitch: 62, Velocity: 100})
	i := track.AddNote(tahti.Note{Tick: 480, Length: 480, Pitch: 64, Velocity: 100})
	if i != 1 {
		t.Errorf("AddNote returned index %d, expected 1", i)
	}
	i = track.AddNote(tahti.Note{Tick: 480, Length: 480, Pitch: 65, Velocity: 100})
	if i != 2 {
		t.Errorf("AddNote of an equal tick returned index %d, expected 2", i)
	}
	prev := -1
	for _, n := range track.Notes {
		if n.Tick < prev {
			t.Fatalf("notes out of order after AddNote: %v", track.Notes)
		}
		prev = n.Tick
	}
	if len(track.Notes) != 4 {
		t.Fatalf("expected 4 notes, got %d", len(track.Notes))
	}
}

func TestTrackMoveNote(t *testing.T) {
	track := tahti.Track{}
	track.AddNote(tahti.Note{Tick: 0, Length: 480, Pitch: 60, Velocity: 100})
	track.AddNote(tahti.Note{Tick: 480, Length: 480, Pitch: 64, Velocity: 100})
	i := track.MoveNote(0, 960, 1)
	if i != 1 {
		t.Errorf("MoveNote returned index %d, expected 1", i)
	}
	if n := track.Notes[1]; n.Tick != 960 || n.Pitch != 61 {
		t.Errorf("moved note is %+v, expected tick 960 pitch 61", n)
	}
	i = track.MoveNote(1, -10000, -200)
	if n := track.Notes[i]; n.Tick != 0 || n.Pitch != 0 {
		t.Errorf("moved note is %+v, expected clamping to tick 0 pitch 0", n)
	}
}

func TestTrackFindNote(t *testing.T) {
	track := tahti.Track{}
	track.AddNote(tahti.Note{Tick: 480, Length: 480, Pitch: 60, Velocity: 100})
	track.AddNote(tahti.Note{Tick: 480, Length: 480, Pitch: 64, Velocity: 100})
	if i := track.FindNote(480, 64); i != 1 {
		t.Errorf("FindNote(480, 64) = %d, expected 1", i)
	}
	if i := track.FindNote(480, 65); i != -1 {
		t.Errorf("FindNote(480, 65) = %d, expected -1", i)
	}
	if i := track.FindNote(0, 60); i != -1 {
		t.Errorf("FindNote(0, 60) = %d, expected -1", i)
	}
}

func TestTrackControls(t *testing.T) {
	track := tahti.Track{}
	track.AddControl(tahti.Control{Tick: 960, Controller: 7, Value: 100})
	i := track.AddControl(tahti.Control{Tick: 0, Controller: 64, Value: 127})
	if i != 0 {
		t.Errorf("AddControl returned index %d, expected 0", i)
	}
	track.DelControl(0)
	if len(track.Controls) != 1 || track.Controls[0].Tick != 960 {
		t.Errorf("DelControl left %v", track.Controls)
	}
}

func TestSourceID(t *testing.T) {
	for _, table := range []struct {
		source tahti.Source
		id     tahti.SourceID
	}{
		{tahti.Source{Kind: tahti.SourceInternal, Name: "Sine"}, "internal:Sine"},
		{tahti.Source{Kind: tahti.SourceBank, Name: "Strings", Path: "/banks/strings.yml"}, "bank:/banks/strings.yml"},
		{tahti.Source{Kind: tahti.SourcePort, Name: "Loop", Port: "Midi Through 14:0"}, "port:Midi Through 14:0"},
	} {
		if got := table.source.ID(); got != table.id {
			t.Errorf("ID() = %q, expected %q", got, table.id)
		}
	}
}
