package sequencer

import (
	"errors"

	"github.com/vsariola/tahti"
)

type (
	// MIDIContext is the handle to the system's MIDI devices. It doubles as
	// the backend provider for port sources, so binding a track to a port
	// source opens the corresponding output port.
	MIDIContext interface {
		BackendProvider
		// Inputs can be iterated to get all the MIDI input devices.
		Inputs(yield func(input MIDIInputDevice) bool)
		// OutputPorts can be iterated to get the names of all the MIDI
		// output ports.
		OutputPorts(yield func(port string) bool)
		Close()
		Support() MIDISupport
	}

	MIDIInputDevice interface {
		Open() error
		Close() error
		IsOpen() bool
		String() string
	}

	MIDISupport int
)

const (
	MIDISupportNotCompiled MIDISupport = iota
	MIDISupportNoDriver
	MIDISupported
)

// NullMIDIContext is a mockup MIDIContext if you don't want to create a real
// one.
type NullMIDIContext struct{}

func (m NullMIDIContext) Backend(source tahti.Source) (tahti.Backend, error) {
	return nil, errors.New("MIDI support not compiled in")
}
func (m NullMIDIContext) Inputs(yield func(input MIDIInputDevice) bool) {}
func (m NullMIDIContext) OutputPorts(yield func(port string) bool)      {}
func (m NullMIDIContext) Close()                                        {}
func (m NullMIDIContext) Support() MIDISupport                          { return MIDISupportNotCompiled }
