package tahti

import (
	"fmt"
	"sort"
)

// Track is one lane of a score: a name, a default MIDI channel and program
// for routing, and the notes and control changes of the track, both kept
// sorted by tick. Mute silences the track; if any track of a score is marked
// Solo, only the solo tracks play.
type Track struct {
	Name     string
	Channel  int
	Program  int
	Mute     bool      `yaml:",omitempty"`
	Solo     bool      `yaml:",omitempty"`
	Notes    []Note    `yaml:",omitempty"`
	Controls []Control `yaml:",omitempty"`
}

// Copy makes a deep copy of a Track.
func (t *Track) Copy() Track {
	notes := make([]Note, len(t.Notes))
	copy(notes, t.Notes)
	controls := make([]Control, len(t.Controls))
	copy(controls, t.Controls)
	return Track{
		Name:     t.Name,
		Channel:  t.Channel,
		Program:  t.Program,
		Mute:     t.Mute,
		Solo:     t.Solo,
		Notes:    notes,
		Controls: controls,
	}
}

func (t *Track) Validate() error {
	if t.Channel < 0 || t.Channel > 15 {
		return fmt.Errorf("track %q has channel %d, should be 0-15", t.Name, t.Channel)
	}
	if t.Program < -1 || t.Program > 127 {
		return fmt.Errorf("track %q has program %d, should be -1 (none) or 0-127", t.Name, t.Program)
	}
	prev := -1
	for _, n := range t.Notes {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("track %q: %w", t.Name, err)
		}
		if n.Tick < prev {
			return fmt.Errorf("track %q notes are not sorted at tick %d", t.Name, n.Tick)
		}
		prev = n.Tick
	}
	prev = -1
	for _, c := range t.Controls {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("track %q: %w", t.Name, err)
		}
		if c.Tick < prev {
			return fmt.Errorf("track %q control changes are not sorted at tick %d", t.Name, c.Tick)
		}
		prev = c.Tick
	}
	return nil
}

// FirstNoteAt returns the index of the first note whose tick is >= tick, or
// len(t.Notes) if all notes start earlier.
func (t *Track) FirstNoteAt(tick int) int {
	return sort.Search(len(t.Notes), func(i int) bool { return t.Notes[i].Tick >= tick })
}

// FirstControlAt returns the index of the first control change whose tick is
// >= tick, or len(t.Controls) if all start earlier.
func (t *Track) FirstControlAt(tick int) int {
	return sort.Search(len(t.Controls), func(i int) bool { return t.Controls[i].Tick >= tick })
}

// AddNote inserts the note keeping the notes sorted by tick, after any
// existing notes with the same tick, and returns the index it ended up at.
func (t *Track) AddNote(n Note) int {
	i := t.FirstNoteAt(n.Tick + 1)
	t.Notes = append(t.Notes, Note{})
	copy(t.Notes[i+1:], t.Notes[i:])
	t.Notes[i] = n
	return i
}

// DelNote removes the note at the given index. Out of range indices are
// ignored.
func (t *Track) DelNote(index int) {
	if index < 0 || index >= len(t.Notes) {
		return
	}
	t.Notes = append(t.Notes[:index], t.Notes[index+1:]...)
}

// MoveNote shifts the note at index by deltaTick ticks and deltaPitch
// semitones, clamping to valid ranges, and returns the index the note ended
// up at after resorting.
func (t *Track) MoveNote(index, deltaTick, deltaPitch int) int {
	if index < 0 || index >= len(t.Notes) {
		return index
	}
	n := t.Notes[index]
	n.Tick = max(n.Tick+deltaTick, 0)
	n.Pitch = min(max(n.Pitch+deltaPitch, 0), 127)
	t.DelNote(index)
	return t.AddNote(n)
}

// FindNote returns the index of the first note at the given tick and pitch,
// or -1 if no such note exists.
func (t *Track) FindNote(tick, pitch int) int {
	for i := t.FirstNoteAt(tick); i < len(t.Notes) && t.Notes[i].Tick == tick; i++ {
		if t.Notes[i].Pitch == pitch {
			return i
		}
	}
	return -1
}

// AddControl inserts the control change keeping the control changes sorted
// by tick and returns the index it ended up at.
func (t *Track) AddControl(c Control) int {
	i := t.FirstControlAt(c.Tick + 1)
	t.Controls = append(t.Controls, Control{})
	copy(t.Controls[i+1:], t.Controls[i:])
	t.Controls[i] = c
	return i
}

// DelControl removes the control change at the given index. Out of range
// indices are ignored.
func (t *Track) DelControl(index int) {
	if index < 0 || index >= len(t.Controls) {
		return
	}
	t.Controls = append(t.Controls[:index], t.Controls[index+1:]...)
}

// EndTick returns the first tick after all notes and control changes of the
// track have finished.
func (t *Track) EndTick() int {
	ret := 0
	for _, n := range t.Notes {
		ret = max(ret, n.End())
	}
	if l := len(t.Controls); l > 0 {
		ret = max(ret, t.Controls[l-1].Tick+1)
	}
	return ret
}
