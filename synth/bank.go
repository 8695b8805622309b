package synth

import (
	"embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

//go:embed banks/*
var bankFS embed.FS

type (
	// Bank maps program numbers to patches. Banks are immutable once
	// loaded, so they can be shared between views without locking.
	Bank struct {
		Name     string        `yaml:"name"`
		Programs map[int]Patch `yaml:"programs"`
	}

	// Patch is the sound of a single program: an oscillator waveform, a
	// linear ADSR envelope and a gain. Times are in seconds, sustain and
	// gain are levels.
	Patch struct {
		Name    string  `yaml:"name,omitempty"`
		Wave    string  `yaml:"wave"`
		Attack  float32 `yaml:"attack"`
		Decay   float32 `yaml:"decay"`
		Sustain float32 `yaml:"sustain"`
		Release float32 `yaml:"release"`
		Gain    float32 `yaml:"gain"`
	}

	waveform int
)

const (
	waveSine waveform = iota
	waveTriangle
	waveSaw
	waveSquare
	waveNoise
)

var defaultPatch = Patch{Name: "Default", Wave: "triangle", Attack: 0.005, Decay: 0.25, Sustain: 0.5, Release: 0.15, Gain: 1}

// Patch returns the patch for the program, falling back to the default
// patch for programs the bank does not define, so every program makes a
// sound.
func (b *Bank) Patch(program int) Patch {
	if b != nil {
		if p, ok := b.Programs[program]; ok {
			return p.normalized()
		}
	}
	return defaultPatch
}

func (p Patch) normalized() Patch {
	if p.Gain == 0 {
		p.Gain = 1
	}
	p.Sustain = min(max(p.Sustain, 0), 1)
	return p
}

func (p Patch) waveform() waveform {
	switch p.Wave {
	case "triangle":
		return waveTriangle
	case "saw":
		return waveSaw
	case "square":
		return waveSquare
	case "noise":
		return waveNoise
	}
	return waveSine
}

// LoadBank reads a patch bank from a YAML file. Unknown fields are an
// error, to catch typos in hand-edited banks.
func LoadBank(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bank: %w", err)
	}
	bank := new(Bank)
	if err := yaml.UnmarshalStrict(data, bank); err != nil {
		return nil, fmt.Errorf("unmarshaling bank %v: %w", path, err)
	}
	return bank, nil
}

var (
	defaultBank     *Bank
	defaultBankOnce sync.Once
)

// DefaultBank returns the embedded bank with General MIDI flavored patches
// for the default track programs.
func DefaultBank() *Bank {
	defaultBankOnce.Do(func() {
		defaultBank = &Bank{Name: "default"}
		data, err := bankFS.ReadFile("banks/default.yml")
		if err != nil {
			return
		}
		bank := new(Bank)
		if err := yaml.UnmarshalStrict(data, bank); err != nil {
			return
		}
		defaultBank = bank
	})
	return defaultBank
}
