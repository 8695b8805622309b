package synth

import (
	"fmt"
	"math"
	"sync"

	"github.com/viterin/vek/vek32"
	"github.com/vsariola/tahti"
)

type (
	// Synth is a small polyphonic synthesizer: 16 channels sharing a pool
	// of 32 voices. It implements tahti.Backend for control and renders
	// float32 stereo through ReadAudio, so the same instance serves as
	// both a routing target and an audio source. The mutex makes the
	// control side safe to call while the audio side pulls.
	Synth struct {
		mutex    sync.Mutex
		bank     *Bank
		channels [numChannels]channel
		voices   [numVoices]voice
		counter  uint64
		mix      []float32
		scratch  []float32
	}

	channel struct {
		program int
		patch   Patch
		sustain bool
	}

	voice struct {
		state     voiceState
		channel   int
		pitch     int
		age       uint64
		sustained bool

		wave    waveform
		phase   float64
		delta   float64
		noise   uint32
		level   float32
		amp     float32
		attack  float32
		decay   float32
		sustain float32
		release float32
	}

	voiceState int
)

const (
	numChannels = 16
	numVoices   = 32

	masterGain = 0.25
)

const (
	voiceOff voiceState = iota
	voiceAttack
	voiceDecay
	voiceSustain
	voiceRelease
)

// NewSynth returns a synth resolving program changes from the bank. A nil
// bank means the embedded default bank.
func NewSynth(bank *Bank) *Synth {
	if bank == nil {
		bank = DefaultBank()
	}
	s := &Synth{bank: bank}
	for i := range s.channels {
		s.channels[i] = channel{program: 0, patch: bank.Patch(0)}
	}
	return s
}

// ReadAudio renders the next len(buf) frames of the sounding voices. It
// always fills the whole buffer; a silent synth renders zeroes. The
// signature matches tahti.AudioSource, so the method value can be handed
// to an audio context directly.
func (s *Synth) ReadAudio(buf tahti.AudioBuffer) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	frames := len(buf)
	if cap(s.mix) < frames {
		s.mix = make([]float32, frames)
		s.scratch = make([]float32, frames)
	}
	mix := s.mix[:frames]
	scratch := s.scratch[:frames]
	for i := range mix {
		mix[i] = 0
	}
	for i := range s.voices {
		v := &s.voices[i]
		if v.state == voiceOff {
			continue
		}
		v.render(scratch)
		vek32.Add_Inplace(mix, scratch)
	}
	vek32.MulNumber_Inplace(mix, masterGain)
	for i, m := range mix {
		c := min(max(m, -1), 1)
		buf[i][0] = c
		buf[i][1] = c
	}
	return frames, nil
}

func (s *Synth) Source() tahti.AudioSource { return s.ReadAudio }

// Active returns the number of voices that have not decayed to silence.
func (s *Synth) Active() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n := 0
	for i := range s.voices {
		if s.voices[i].state != voiceOff {
			n++
		}
	}
	return n
}

func (s *Synth) NoteOn(channelIdx, pitch, velocity int) error {
	if velocity == 0 {
		return s.NoteOff(channelIdx, pitch)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if channelIdx < 0 || channelIdx >= numChannels {
		return fmt.Errorf("invalid channel %d", channelIdx)
	}
	patch := s.channels[channelIdx].patch
	s.counter++
	*s.allocVoice(channelIdx, pitch) = voice{
		state:   voiceAttack,
		channel: channelIdx,
		pitch:   pitch,
		age:     s.counter,
		wave:    patch.waveform(),
		delta:   frequency(pitch) / tahti.SampleRate,
		noise:   uint32(s.counter)*2654435761 | 1,
		amp:     float32(velocity) / 127 * patch.Gain,
		attack:  envRate(1, patch.Attack),
		decay:   envRate(1-patch.Sustain, patch.Decay),
		sustain: patch.Sustain,
		release: envRate(1, patch.Release),
	}
	return nil
}

func (s *Synth) NoteOff(channelIdx, pitch int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sustain := channelIdx >= 0 && channelIdx < numChannels && s.channels[channelIdx].sustain
	for i := range s.voices {
		v := &s.voices[i]
		if v.state == voiceOff || v.state == voiceRelease || v.channel != channelIdx || v.pitch != pitch {
			continue
		}
		if sustain {
			v.sustained = true
		} else {
			v.state = voiceRelease
		}
	}
	return nil
}

func (s *Synth) ProgramChange(channelIdx, program int) error {
	return s.SetChannelPatch(channelIdx, program, s.bank.Patch(program))
}

// SetChannelPatch sets the patch sounding on the channel. Program changes
// through a bank view resolve the patch from the view's bank before
// landing here. Voices already triggered keep their patch.
func (s *Synth) SetChannelPatch(channelIdx, program int, patch Patch) error {
	if channelIdx < 0 || channelIdx >= numChannels {
		return fmt.Errorf("invalid channel %d", channelIdx)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.channels[channelIdx].program = program
	s.channels[channelIdx].patch = patch
	return nil
}

func (s *Synth) ControlChange(channelIdx, controller, value int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if channelIdx < 0 || channelIdx >= numChannels {
		return fmt.Errorf("invalid channel %d", channelIdx)
	}
	switch controller {
	case tahti.CCSustainPedal:
		on := value >= 64
		s.channels[channelIdx].sustain = on
		if !on {
			for i := range s.voices {
				v := &s.voices[i]
				if v.sustained && v.channel == channelIdx {
					v.sustained = false
					v.state = voiceRelease
				}
			}
		}
	case tahti.CCAllSoundOff:
		for i := range s.voices {
			if v := &s.voices[i]; v.channel == channelIdx {
				v.state = voiceOff
				v.level = 0
			}
		}
	case tahti.CCAllNotesOff:
		for i := range s.voices {
			if v := &s.voices[i]; v.channel == channelIdx && v.state != voiceOff {
				v.sustained = false
				v.state = voiceRelease
			}
		}
	}
	return nil
}

// Close kills all voices. The synth can still be used afterwards; live
// output goes quiet until the next note on.
func (s *Synth) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i := range s.voices {
		s.voices[i] = voice{}
	}
	return nil
}

// allocVoice retriggers the voice already sounding the same pitch on the
// same channel, takes a free voice, or steals the oldest one.
func (s *Synth) allocVoice(channelIdx, pitch int) *voice {
	for i := range s.voices {
		v := &s.voices[i]
		if v.state != voiceOff && v.channel == channelIdx && v.pitch == pitch {
			return v
		}
	}
	for i := range s.voices {
		if s.voices[i].state == voiceOff {
			return &s.voices[i]
		}
	}
	oldest := &s.voices[0]
	for i := range s.voices {
		if s.voices[i].age < oldest.age {
			oldest = &s.voices[i]
		}
	}
	return oldest
}

func (v *voice) render(out []float32) {
	for i := 0; i < len(out); i++ {
		switch v.state {
		case voiceAttack:
			v.level += v.attack
			if v.level >= 1 {
				v.level = 1
				v.state = voiceDecay
			}
		case voiceDecay:
			v.level -= v.decay
			if v.level <= v.sustain {
				v.level = v.sustain
				if v.sustain <= 0 {
					v.state = voiceOff
				} else {
					v.state = voiceSustain
				}
			}
		case voiceRelease:
			v.level -= v.release
			if v.level <= 0 {
				v.level = 0
				v.state = voiceOff
			}
		}
		if v.state == voiceOff {
			for ; i < len(out); i++ {
				out[i] = 0
			}
			return
		}
		out[i] = v.sample() * v.level * v.amp
	}
}

func (v *voice) sample() float32 {
	if v.wave == waveNoise {
		v.noise ^= v.noise << 13
		v.noise ^= v.noise >> 17
		v.noise ^= v.noise << 5
		return float32(int32(v.noise)) / (1 << 31)
	}
	var s float64
	switch v.wave {
	case waveTriangle:
		s = 4*math.Abs(v.phase-0.5) - 1
	case waveSaw:
		s = 2*v.phase - 1
	case waveSquare:
		if v.phase < 0.5 {
			s = 1
		} else {
			s = -1
		}
	default:
		s = math.Sin(2 * math.Pi * v.phase)
	}
	v.phase += v.delta
	if v.phase >= 1 {
		v.phase -= 1
	}
	return float32(s)
}

func frequency(pitch int) float64 {
	return 440 * math.Pow(2, float64(pitch-69)/12)
}

// envRate converts an envelope stage to a per sample level increment. Zero
// length stages jump in a single sample.
func envRate(depth, seconds float32) float32 {
	samples := seconds * tahti.SampleRate
	if samples < 1 {
		samples = 1
	}
	return depth / samples
}
