package tahti_test

import (
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/vsariola/tahti"
)

func TestAudioBufferSource(t *testing.T) {
	buffer := tahti.AudioBuffer{{1, 2}, {3, 4}, {5, 6}}
	source := buffer.Source()
	out := make(tahti.AudioBuffer, 2)
	n, err := source(out)
	if n != 2 || err != nil {
		t.Fatalf("first read returned %d, %v", n, err)
	}
	if out[0] != [2]float32{1, 2} || out[1] != [2]float32{3, 4} {
		t.Errorf("first read = %v", out)
	}
	n, err = source(out)
	if n != 1 || err != nil {
		t.Fatalf("second read returned %d, %v", n, err)
	}
	if out[0] != [2]float32{5, 6} {
		t.Errorf("second read = %v", out[:n])
	}
	if _, err = source(out); err != io.EOF {
		t.Errorf("exhausted source returned %v, expected io.EOF", err)
	}
}

func TestAudioBufferRaw(t *testing.T) {
	buffer := tahti.AudioBuffer{{1, -1}, {0.5, 2}}
	raw, err := buffer.Raw(true)
	if err != nil {
		t.Fatalf("Raw failed: %v", err)
	}
	if len(raw) != 8 {
		t.Fatalf("pcm16 raw data is %d bytes, expected 8", len(raw))
	}
	first := int16(binary.LittleEndian.Uint16(raw[0:2]))
	if first != math.MaxInt16 {
		t.Errorf("first sample = %d, expected full scale", first)
	}
	last := int16(binary.LittleEndian.Uint16(raw[6:8]))
	if last != math.MaxInt16 {
		t.Errorf("last sample = %d, expected clamping to full scale", last)
	}
	raw, err = buffer.Raw(false)
	if err != nil {
		t.Fatalf("Raw failed: %v", err)
	}
	if len(raw) != 16 {
		t.Errorf("float raw data is %d bytes, expected 16", len(raw))
	}
}

func TestAudioBufferWav(t *testing.T) {
	buffer := make(tahti.AudioBuffer, 100)
	wav, err := buffer.Wav(true)
	if err != nil {
		t.Fatalf("Wav failed: %v", err)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE magic: % x", wav[:12])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); int(got) != len(wav)-8 {
		t.Errorf("RIFF chunk size = %d, expected %d", got, len(wav)-8)
	}
	if format := binary.LittleEndian.Uint16(wav[20:22]); format != 1 {
		t.Errorf("wave format = %d, expected PCM", format)
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != tahti.SampleRate {
		t.Errorf("sample rate = %d, expected %d", rate, tahti.SampleRate)
	}
	if got := len(wav) - 44; got != 100*2*2 {
		t.Errorf("pcm16 data is %d bytes, expected %d", got, 100*2*2)
	}
	wav, err = buffer.Wav(false)
	if err != nil {
		t.Fatalf("Wav failed: %v", err)
	}
	if format := binary.LittleEndian.Uint16(wav[20:22]); format != 3 {
		t.Errorf("wave format = %d, expected IEEE float", format)
	}
	if got := len(wav) - 58; got != 100*2*4 {
		t.Errorf("float data is %d bytes, expected %d", got, 100*2*4)
	}
}
