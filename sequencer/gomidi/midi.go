package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/sequencer"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type (
	RTMIDIContext struct {
		broker             *sequencer.Broker
		driver             *rtmididrv.Driver
		currentIn          drivers.In
		inputDevices       []RTMIDIDevice
		devicesInitialized bool
	}

	RTMIDIDevice struct {
		context *RTMIDIContext
		in      drivers.In
	}

	rtmidiBackend struct {
		out drivers.Out
	}
)

// NewContext opens the driver. Note events received on the open input
// device are sent to the player through the broker.
func NewContext(broker *sequencer.Broker) *RTMIDIContext {
	m := RTMIDIContext{broker: broker}
	// there's not much we can do if this fails, so just use m.driver = nil to
	// indicate no driver available
	m.driver, _ = rtmididrv.New()
	return &m
}

func (c *RTMIDIContext) Support() sequencer.MIDISupport {
	if c.driver == nil {
		return sequencer.MIDISupportNoDriver
	}
	return sequencer.MIDISupported
}

func (c *RTMIDIContext) Inputs(yield func(input sequencer.MIDIInputDevice) bool) {
	if c.devicesInitialized {
		c.yieldCachedInputDevices(yield)
	} else {
		c.initInputDevices(yield)
	}
}

func (c *RTMIDIContext) yieldCachedInputDevices(yield func(input sequencer.MIDIInputDevice) bool) {
	for _, device := range c.inputDevices {
		if !yield(device) {
			break
		}
	}
}

func (c *RTMIDIContext) initInputDevices(yield func(input sequencer.MIDIInputDevice) bool) {
	if c.driver == nil {
		return
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return
	}
	for i := 0; i < len(ins); i++ {
		device := RTMIDIDevice{context: c, in: ins[i]}
		c.inputDevices = append(c.inputDevices, device)
		if !yield(device) {
			break
		}
	}
	c.devicesInitialized = true
}

func (c *RTMIDIContext) OutputPorts(yield func(port string) bool) {
	if c.driver == nil {
		return
	}
	outs, err := c.driver.Outs()
	if err != nil {
		return
	}
	for _, out := range outs {
		if !yield(out.String()) {
			break
		}
	}
}

// TryToOpenBy opens the first input device whose name starts with the
// prefix, or just the first input device if takeFirst is set.
func (c *RTMIDIContext) TryToOpenBy(namePrefix string, takeFirst bool) {
	if namePrefix == "" && !takeFirst {
		return
	}
	for input := range c.Inputs {
		if takeFirst || strings.HasPrefix(input.String(), namePrefix) {
			input.Open()
			return
		}
	}
}

// Backend opens the MIDI output port named by the source. The registry
// caches and closes the returned backend, so each port is opened at most
// once.
func (c *RTMIDIContext) Backend(source tahti.Source) (tahti.Backend, error) {
	if source.Kind != tahti.SourcePort {
		return nil, fmt.Errorf("gomidi cannot provide %s sources", source.Kind)
	}
	if c.driver == nil {
		return nil, errors.New("no driver available")
	}
	outs, err := c.driver.Outs()
	if err != nil {
		return nil, fmt.Errorf("listing MIDI outputs: %w", err)
	}
	for _, out := range outs {
		if out.String() == source.Port || strings.HasPrefix(out.String(), source.Port) {
			if err := out.Open(); err != nil {
				return nil, fmt.Errorf("opening MIDI output %s: %w", out.String(), err)
			}
			return &rtmidiBackend{out: out}, nil
		}
	}
	return nil, fmt.Errorf("no MIDI output port %q", source.Port)
}

func (c *RTMIDIContext) Close() {
	if c.driver == nil {
		return
	}
	if c.currentIn != nil && c.currentIn.IsOpen() {
		c.currentIn.Close()
	}
	c.driver.Close()
}

func (c *RTMIDIContext) HasDeviceOpen() bool {
	return c.currentIn != nil && c.currentIn.IsOpen()
}

// HandleMessage converts note events from the open input device into player
// messages, so notes played on a keyboard sound on the binding of the track
// matching their channel.
func (c *RTMIDIContext) HandleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity uint8
	if msg.GetNoteStart(&channel, &key, &velocity) {
		m := sequencer.NoteOnMsg{Track: int(channel), Pitch: int(key), Velocity: int(velocity)}
		sequencer.TrySend(c.broker.ToPlayer, any(m))
	} else if msg.GetNoteEnd(&channel, &key) {
		m := sequencer.NoteOffMsg{Track: int(channel), Pitch: int(key)}
		sequencer.TrySend(c.broker.ToPlayer, any(m))
	}
}

// Open an input device while closing the currently open if necessary.
func (m RTMIDIDevice) Open() error {
	if m.context.currentIn == m.in {
		return nil
	}
	if m.context.driver == nil {
		return errors.New("no driver available")
	}
	if m.context.HasDeviceOpen() {
		m.context.currentIn.Close()
	}
	m.context.currentIn = m.in
	err := m.in.Open()
	if err != nil {
		m.context.currentIn = nil
		return fmt.Errorf("opening MIDI input failed: %w", err)
	}
	_, err = midi.ListenTo(m.in, m.context.HandleMessage)
	if err != nil {
		m.in.Close()
		m.context.currentIn = nil
		return fmt.Errorf("listening to MIDI input failed: %w", err)
	}
	return nil
}

func (m RTMIDIDevice) Close() error {
	if m.context.currentIn == m.in {
		m.context.currentIn = nil
	}
	if !m.in.IsOpen() {
		return nil
	}
	return m.in.Close()
}

func (m RTMIDIDevice) IsOpen() bool { return m.in.IsOpen() }

func (d RTMIDIDevice) String() string {
	return d.in.String()
}

func (b *rtmidiBackend) NoteOn(channel, pitch, velocity int) error {
	return b.out.Send(midi.NoteOn(uint8(channel), uint8(pitch), uint8(velocity)))
}

func (b *rtmidiBackend) NoteOff(channel, pitch int) error {
	return b.out.Send(midi.NoteOff(uint8(channel), uint8(pitch)))
}

func (b *rtmidiBackend) ProgramChange(channel, program int) error {
	return b.out.Send(midi.ProgramChange(uint8(channel), uint8(program)))
}

func (b *rtmidiBackend) ControlChange(channel, controller, value int) error {
	return b.out.Send(midi.ControlChange(uint8(channel), uint8(controller), uint8(value)))
}

func (b *rtmidiBackend) Close() error {
	if !b.out.IsOpen() {
		return nil
	}
	return b.out.Close()
}
