package synth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vsariola/tahti"
)

func pumpFrames(s *Synth, frames int) tahti.AudioBuffer {
	buf := make(tahti.AudioBuffer, frames)
	s.ReadAudio(buf)
	return buf
}

func pumpUntilQuiet(t *testing.T, s *Synth, maxFrames int) {
	t.Helper()
	buf := make(tahti.AudioBuffer, 1024)
	for frames := 0; s.Active() > 0; frames += len(buf) {
		if frames > maxFrames {
			t.Fatalf("%d voices still active after %d frames", s.Active(), frames)
		}
		s.ReadAudio(buf)
	}
}

func peak(buf tahti.AudioBuffer) float32 {
	var p float32
	for _, frame := range buf {
		p = max(p, max(frame[0], -frame[0]), max(frame[1], -frame[1]))
	}
	return p
}

func TestSilentSynthRendersZeroes(t *testing.T) {
	s := NewSynth(nil)
	buf := make(tahti.AudioBuffer, 64)
	n, err := s.ReadAudio(buf)
	if n != 64 || err != nil {
		t.Fatalf("ReadAudio returned %d, %v", n, err)
	}
	if p := peak(buf); p != 0 {
		t.Errorf("silent synth rendered peak %v", p)
	}
}

func TestNoteOnProducesAudio(t *testing.T) {
	s := NewSynth(nil)
	if err := s.NoteOn(0, 69, 100); err != nil {
		t.Fatalf("NoteOn failed: %v", err)
	}
	if got := s.Active(); got != 1 {
		t.Fatalf("Active() = %d, expected 1", got)
	}
	if p := peak(pumpFrames(s, 512)); p <= 0 {
		t.Errorf("peak = %v, expected a sounding note", p)
	}
}

func TestNoteOffReleasesVoice(t *testing.T) {
	s := NewSynth(nil)
	s.NoteOn(0, 60, 100)
	pumpFrames(s, 1024)
	s.NoteOff(0, 60)
	pumpUntilQuiet(t, s, 2*tahti.SampleRate)
	if p := peak(pumpFrames(s, 64)); p != 0 {
		t.Errorf("peak = %v after the voice released", p)
	}
}

func TestVelocityZeroActsAsNoteOff(t *testing.T) {
	s := NewSynth(nil)
	s.NoteOn(0, 60, 100)
	s.NoteOn(0, 60, 0)
	pumpUntilQuiet(t, s, 2*tahti.SampleRate)
}

func TestSustainPedalDefersRelease(t *testing.T) {
	s := NewSynth(nil)
	s.ControlChange(0, tahti.CCSustainPedal, 127)
	s.NoteOn(0, 60, 100)
	s.NoteOff(0, 60)
	pumpFrames(s, tahti.SampleRate)
	if got := s.Active(); got != 1 {
		t.Fatalf("Active() = %d, expected the pedal to keep the voice sounding", got)
	}
	s.ControlChange(0, tahti.CCSustainPedal, 0)
	pumpUntilQuiet(t, s, 2*tahti.SampleRate)
}

func TestAllSoundOffKillsImmediately(t *testing.T) {
	s := NewSynth(nil)
	s.NoteOn(0, 60, 100)
	s.NoteOn(0, 64, 100)
	pumpFrames(s, 256)
	s.ControlChange(0, tahti.CCAllSoundOff, 0)
	if got := s.Active(); got != 0 {
		t.Fatalf("Active() = %d, expected an immediate kill", got)
	}
	if p := peak(pumpFrames(s, 64)); p != 0 {
		t.Errorf("peak = %v after all sound off", p)
	}
}

func TestAllNotesOffReleasesOnlyItsChannel(t *testing.T) {
	s := NewSynth(nil)
	s.NoteOn(0, 60, 100)
	s.NoteOn(0, 64, 100)
	s.NoteOn(1, 70, 100)
	s.ControlChange(0, tahti.CCAllNotesOff, 0)
	if got := s.Active(); got != 3 {
		t.Fatalf("Active() = %d, expected releasing voices to still sound", got)
	}
	pumpFrames(s, tahti.SampleRate)
	if got := s.Active(); got != 1 {
		t.Errorf("Active() = %d, expected only the channel 1 voice to survive", got)
	}
}

func TestVoiceStealingTakesOldest(t *testing.T) {
	s := NewSynth(nil)
	for pitch := 30; pitch <= 30+numVoices; pitch++ {
		s.NoteOn(0, pitch, 100)
	}
	if got := s.Active(); got != numVoices {
		t.Fatalf("Active() = %d, expected all %d voices in use", got, numVoices)
	}
	for i := range s.voices {
		if s.voices[i].pitch == 30 {
			t.Errorf("the oldest voice was not stolen")
		}
	}
}

func TestRetriggerReusesVoice(t *testing.T) {
	s := NewSynth(nil)
	s.NoteOn(0, 60, 100)
	s.NoteOn(0, 60, 100)
	if got := s.Active(); got != 1 {
		t.Errorf("Active() = %d, expected the same pitch to retrigger its voice", got)
	}
}

func TestProgramChangeResolvesFromBank(t *testing.T) {
	bank := &Bank{Programs: map[int]Patch{5: {Wave: "square", Sustain: 1, Gain: 0.5}}}
	s := NewSynth(bank)
	s.ProgramChange(0, 5)
	if got := s.channels[0].patch.Wave; got != "square" {
		t.Errorf("patch wave = %q, expected square", got)
	}
	s.ProgramChange(0, 99)
	if got := s.channels[0].patch.Name; got != "Default" {
		t.Errorf("patch = %q, expected undefined programs to fall back to the default patch", got)
	}
}

func TestInvalidChannelErrors(t *testing.T) {
	s := NewSynth(nil)
	if err := s.NoteOn(numChannels, 60, 100); err == nil {
		t.Errorf("NoteOn accepted channel %d", numChannels)
	}
	if err := s.ProgramChange(-1, 0); err == nil {
		t.Errorf("ProgramChange accepted channel -1")
	}
	if err := s.ControlChange(numChannels, tahti.CCSustainPedal, 0); err == nil {
		t.Errorf("ControlChange accepted channel %d", numChannels)
	}
}

func TestPatchFallbackAndNormalization(t *testing.T) {
	var nilBank *Bank
	if got := nilBank.Patch(0).Name; got != "Default" {
		t.Errorf("nil bank patch = %q, expected the default patch", got)
	}
	bank := &Bank{Programs: map[int]Patch{0: {Wave: "sine", Sustain: 1.5}}}
	patch := bank.Patch(0)
	if patch.Gain != 1 {
		t.Errorf("gain = %v, expected a zero gain to normalize to 1", patch.Gain)
	}
	if patch.Sustain != 1 {
		t.Errorf("sustain = %v, expected clamping to 1", patch.Sustain)
	}
}

func TestLoadBank(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yml")
	contents := "name: test\nprograms:\n  3: { wave: saw, attack: 0.01, decay: 0.1, sustain: 0.5, release: 0.1, gain: 0.7 }\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("could not write bank: %v", err)
	}
	bank, err := LoadBank(path)
	if err != nil {
		t.Fatalf("LoadBank failed: %v", err)
	}
	if got := bank.Patch(3).Wave; got != "saw" {
		t.Errorf("patch wave = %q, expected saw", got)
	}
	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("name: test\nwibble: 3\n"), 0644); err != nil {
		t.Fatalf("could not write bank: %v", err)
	}
	if _, err := LoadBank(bad); err == nil {
		t.Errorf("LoadBank accepted an unknown field")
	}
	if _, err := LoadBank(filepath.Join(dir, "missing.yml")); err == nil {
		t.Errorf("LoadBank accepted a missing file")
	}
}

func TestDefaultBankCoversDefaultPrograms(t *testing.T) {
	bank := DefaultBank()
	if bank == nil || len(bank.Programs) == 0 {
		t.Fatalf("embedded default bank did not load")
	}
	for _, program := range []int{0, 24, 32, 48, 52, 56, 64, 114} {
		if _, ok := bank.Programs[program]; !ok {
			t.Errorf("default bank has no patch for program %d", program)
		}
	}
	if got := bank.Patch(118).Wave; got != "noise" {
		t.Errorf("program 118 wave = %q, expected noise", got)
	}
}

func renderScore() tahti.Score {
	return tahti.Score{
		TicksPerBeat:   480,
		TempoMap:       tahti.TempoMap{{Tick: 0, MicrosPerBeat: 500000}},
		TimeSignatures: tahti.TimeSignatureMap{{Tick: 0, Numerator: 4, Denominator: 4}},
		Tracks: []tahti.Track{{
			Name:    "lead",
			Channel: 0,
			Program: 0,
			Notes:   []tahti.Note{{Tick: 0, Length: 480, Pitch: 69, Velocity: 100}},
		}},
	}
}

func TestRenderScore(t *testing.T) {
	var progress []float32
	buf, err := Render(renderScore(), nil, func(p float32) { progress = append(progress, p) })
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	// one beat at 120 BPM is half a second
	noteOff := tahti.SampleRate / 2
	if len(buf) < noteOff || len(buf) > noteOff+2*tahti.SampleRate {
		t.Fatalf("rendered %d frames, expected the note plus a short release tail", len(buf))
	}
	if p := peak(buf[:noteOff]); p <= 0 {
		t.Errorf("peak = %v, expected the note to sound", p)
	}
	if last := buf[len(buf)-1]; last != [2]float32{} {
		t.Errorf("last frame = %v, expected the tail to decay to silence", last)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 1 {
		t.Errorf("progress = %v, expected it to end at 1", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress went backwards at %d: %v", i, progress)
		}
	}
}

func TestRenderSkipsInaudibleTracks(t *testing.T) {
	muted := renderScore()
	muted.Tracks[0].Mute = true
	buf, err := Render(muted, nil, nil)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(buf) != 0 {
		t.Errorf("rendered %d frames from a muted track", len(buf))
	}
	solo := renderScore()
	solo.Tracks = append(solo.Tracks, tahti.Track{Name: "solo", Channel: 1, Program: -1, Solo: true})
	buf, err = Render(solo, nil, nil)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(buf) != 0 {
		t.Errorf("rendered %d frames, expected solo to skip the other track", len(buf))
	}
}

func TestRenderInvalidScore(t *testing.T) {
	if _, err := Render(tahti.Score{}, nil, nil); err == nil {
		t.Errorf("Render accepted an invalid score")
	}
}
