package tahti

import "io"

// SampleRate is the fixed sample rate of all audio rendering and playback.
const SampleRate = 44100

type (
	// AudioBuffer is a buffer of stereo audio samples of the form
	// [[left0, right0], [left1, right1], ...]
	AudioBuffer [][2]float32

	// AudioSource fills the given buffer with audio and returns the number
	// of frames written. It returns io.EOF after the audio is exhausted;
	// sources that produce audio indefinitely never return io.EOF.
	AudioSource func(buf AudioBuffer) (int, error)

	// CloserWaiter is the handle to ongoing audio playback: Close stops it,
	// Wait blocks until the source has been consumed to the end.
	CloserWaiter interface {
		io.Closer
		Wait()
	}

	// AudioContext plays audio pulled from an AudioSource.
	AudioContext interface {
		Play(source AudioSource) CloserWaiter
		Close() error
	}
)

// Source returns an AudioSource that reads through the buffer from the
// beginning and then returns io.EOF.
func (b AudioBuffer) Source() AudioSource {
	pos := 0
	return func(buf AudioBuffer) (int, error) {
		n := copy(buf, b[pos:])
		pos += n
		if n == 0 && len(buf) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}
