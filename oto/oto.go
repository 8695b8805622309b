package oto

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/vsariola/tahti"
)

type (
	OtoContext struct {
		context *oto.Context
	}

	otoPlayer struct {
		player *oto.Player
	}

	// sourceReader adapts a tahti.AudioSource to the io.Reader oto pulls
	// from, interleaving the frames as little-endian float32s.
	sourceReader struct {
		source tahti.AudioSource
		frames tahti.AudioBuffer
	}
)

const otoBufferSize = 20 * time.Millisecond

// NewContext creates a context for playing audio. There can be only one
// context per process, so keep it around and Play sources on it.
func NewContext() (*OtoContext, error) {
	op := &oto.NewContextOptions{
		SampleRate:   tahti.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   otoBufferSize,
	}
	context, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &OtoContext{context: context}, nil
}

func (c *OtoContext) Play(source tahti.AudioSource) tahti.CloserWaiter {
	player := c.context.NewPlayer(&sourceReader{source: source})
	player.Play()
	return otoPlayer{player: player}
}

// Close suspends the context. oto contexts cannot be closed for real, but
// suspending releases the audio device until the process exits.
func (c *OtoContext) Close() error {
	if err := c.context.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

func (p otoPlayer) Close() error {
	return p.player.Close()
}

// Wait returns when the source has been played to the end.
func (p otoPlayer) Wait() {
	for p.player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
}

func (r *sourceReader) Read(p []byte) (int, error) {
	frames := len(p) / 8
	if cap(r.frames) < frames {
		r.frames = make(tahti.AudioBuffer, frames)
	}
	buf := r.frames[:frames]
	n, err := r.source(buf)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(p[i*8:], math.Float32bits(buf[i][0]))
		binary.LittleEndian.PutUint32(p[i*8+4:], math.Float32bits(buf[i][1]))
	}
	return n * 8, err
}
