package synth

import (
	"fmt"
	"sync"

	"github.com/vsariola/tahti"
)

type (
	// Provider resolves internal and bank sources to views of one shared
	// synth, so every track routed to the internal synthesizer mixes into
	// the same audio stream. Banks are loaded once per path and cached.
	Provider struct {
		synth *Synth
		mutex sync.Mutex
		banks map[string]*Bank
	}

	// view is a backend facade over the shared synth. Its only own state
	// is the bank used to resolve program changes; closing it leaves the
	// synth running, as other sources may still be routed to it.
	view struct {
		synth *Synth
		bank  *Bank
	}
)

func NewProvider(s *Synth) *Provider {
	return &Provider{synth: s, banks: make(map[string]*Bank)}
}

func (p *Provider) Backend(source tahti.Source) (tahti.Backend, error) {
	switch source.Kind {
	case tahti.SourceInternal:
		return &view{synth: p.synth, bank: p.synth.bank}, nil
	case tahti.SourceBank:
		bank, err := p.bank(source.Path)
		if err != nil {
			return nil, err
		}
		return &view{synth: p.synth, bank: bank}, nil
	}
	return nil, fmt.Errorf("synth cannot provide %s sources", source.Kind)
}

func (p *Provider) bank(path string) (*Bank, error) {
	if path == "" {
		return p.synth.bank, nil
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if bank, ok := p.banks[path]; ok {
		return bank, nil
	}
	bank, err := LoadBank(path)
	if err != nil {
		return nil, err
	}
	p.banks[path] = bank
	return bank, nil
}

func (v *view) NoteOn(channel, pitch, velocity int) error {
	return v.synth.NoteOn(channel, pitch, velocity)
}

func (v *view) NoteOff(channel, pitch int) error {
	return v.synth.NoteOff(channel, pitch)
}

func (v *view) ProgramChange(channel, program int) error {
	return v.synth.SetChannelPatch(channel, program, v.bank.Patch(program))
}

func (v *view) ControlChange(channel, controller, value int) error {
	return v.synth.ControlChange(channel, controller, value)
}

func (v *view) Close() error { return nil }
