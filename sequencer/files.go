package sequencer

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/midifile"
)

// ParseScore parses a score from standard MIDI file, JSON or YAML bytes.
func ParseScore(b []byte) (tahti.Score, error) {
	if bytes.HasPrefix(b, []byte("MThd")) {
		return midifile.Read(bytes.NewReader(b))
	}
	var score tahti.Score
	if errJSON := json.Unmarshal(b, &score); errJSON != nil {
		if errYaml := yaml.Unmarshal(b, &score); errYaml != nil {
			return tahti.Score{}, fmt.Errorf("unmarshaling score: %v / %v", errYaml, errJSON)
		}
	}
	return score, nil
}

// MarshalScore marshals a score in the format matching the file extension:
// .mid and .midi as a standard MIDI file, .json as JSON and everything else
// as YAML.
func MarshalScore(score tahti.Score, extension string) ([]byte, error) {
	switch extension {
	case ".mid", ".midi":
		var buf bytes.Buffer
		if err := midifile.Write(&buf, score); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ".json":
		return json.Marshal(score)
	default:
		return yaml.Marshal(score)
	}
}

func (m *Model) ReadScore(r io.ReadCloser) {
	b, err := io.ReadAll(r)
	if err != nil {
		return
	}
	err = r.Close()
	if err != nil {
		return
	}
	score, err := ParseScore(b)
	if err != nil {
		m.Alerts().Add(fmt.Sprintf("Error reading a score file: %v", err), Error)
		return
	}
	if err := score.Validate(); err != nil {
		m.Alerts().Add(fmt.Sprintf("Refusing to load score: %v", err), Error)
		return
	}
	m.saveUndo("LoadScore", 0)
	m.setScoreNoUndo(score)
	if f, ok := r.(*os.File); ok {
		m.d.FilePath = f.Name()
		// when the score is loaded from a file, we are quite confident that the file is persisted and thus
		// we can close tahti without worrying about losing changes
		m.d.ChangedSinceSave = false
	}
}

func (m *Model) WriteScore(w io.WriteCloser) {
	path := ""
	if f, ok := w.(*os.File); ok {
		path = f.Name()
	}
	contents, err := MarshalScore(m.d.Score, filepath.Ext(path))
	if err != nil {
		m.Alerts().Add(fmt.Sprintf("Error marshaling a score file: %v", err), Error)
		return
	}
	if _, err := w.Write(contents); err != nil {
		m.Alerts().Add(fmt.Sprintf("Error writing to file: %v", err), Error)
		return
	}
	if _, ok := w.(*os.File); ok {
		// when the score is saved to a file, we are quite confident that the file is persisted and thus
		// we can close tahti without worrying about losing changes
		m.d.ChangedSinceSave = false
	}
	if err := w.Close(); err != nil {
		m.Alerts().Add(fmt.Sprintf("Error closing the file: %v", err), Error)
		return
	}
	if path != "" {
		m.d.FilePath = path
	}
}

// WriteWav renders the score with the internal synth and writes it as a
// .wav file, in the background. Progress and errors are reported through
// alerts.
func (m *Model) WriteWav(w io.WriteCloser, pcm16 bool) {
	if m.render == nil {
		m.Alerts().Add("No renderer available", Error)
		return
	}
	score := m.d.Score.Copy()
	go func() {
		b := make([]byte, 32+2)
		rand.Read(b)
		name := fmt.Sprintf("%x", b)[2 : 32+2]
		data, err := m.render(score, func(p float32) {
			txt := fmt.Sprintf("Exporting score: %.0f%%", p*100)
			TrySend(m.broker.ToModel, MsgToModel{Data: Alert{Message: txt, Priority: Info, Name: name, Duration: defaultAlertDuration}})
		})
		if err != nil {
			txt := fmt.Sprintf("Error rendering the score during export: %v", err)
			TrySend(m.broker.ToModel, MsgToModel{Data: Alert{Message: txt, Priority: Error, Name: name, Duration: defaultAlertDuration}})
			return
		}
		buffer, err := data.Wav(pcm16)
		if err != nil {
			txt := fmt.Sprintf("Error converting to .wav: %v", err)
			TrySend(m.broker.ToModel, MsgToModel{Data: Alert{Message: txt, Priority: Error, Name: name, Duration: defaultAlertDuration}})
			return
		}
		w.Write(buffer)
		w.Close()
	}()
}
