package tahti

// Backend is an opaque sound producing endpoint the routing layer dispatches
// to: the internal synthesizer, a bank view of it, or an external MIDI port.
// Channels are 0-15, pitches, velocities, programs, controllers and values
// 0-127. Sends must not block on I/O completion; errors report delivery
// failure of that message only. Backends tolerate redundant note offs.
type Backend interface {
	NoteOn(channel, pitch, velocity int) error
	NoteOff(channel, pitch int) error
	ProgramChange(channel, program int) error
	ControlChange(channel, controller, value int) error
	Close() error
}

// MIDI controller numbers the sequencer itself sends or interprets.
const (
	CCSustainPedal = 64
	CCAllSoundOff  = 120
	CCAllNotesOff  = 123
)
