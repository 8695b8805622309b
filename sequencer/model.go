package sequencer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vsariola/tahti"
)

// Model implements the mutable state for the sequencer editing surface.
//
// It is owned by the editing goroutine, while the player runs in its own
// goroutine. They communicate only through the broker: the model sends deep
// copies of the score and transport messages to the player, and drains the
// player status and alerts in ProcessMessages. Nothing here is safe to call
// from two goroutines at once.
type (
	// modelData is the part of the model that gets saved to the recovery
	// file.
	modelData struct {
		Score            tahti.Score
		Loop             Loop
		FilePath         string
		ChangedSinceSave bool
		RecoveryFilePath string

		PrevUndoType    string
		UndoSkipCounter int
		UndoStack       []tahti.Score
		RedoStack       []tahti.Score
	}

	Model struct {
		d modelData

		playerStatus PlayerStatus
		alerts       []Alert

		broker   *Broker
		registry *SourceRegistry
		render   RenderFunc
	}

	// RenderFunc renders a score offline into an audio buffer, reporting
	// progress now and then through the callback if it is not nil.
	RenderFunc func(score tahti.Score, progress func(float32)) (tahti.AudioBuffer, error)
)

const maxUndo = 64

var defaultScore = tahti.Score{
	TicksPerBeat:   480,
	TempoMap:       tahti.TempoMap{{Tick: 0, MicrosPerBeat: 500000}},
	TimeSignatures: tahti.TimeSignatureMap{{Tick: 0, Numerator: 4, Denominator: 4}},
	Tracks: []tahti.Track{
		{Name: "Track01", Channel: 0, Program: 0},
		{Name: "Track02", Channel: 1, Program: 48},
		{Name: "Track03", Channel: 2, Program: 56},
		{Name: "Track04", Channel: 3, Program: 64},
		{Name: "Track05", Channel: 4, Program: 114},
		{Name: "Track06", Channel: 5, Program: 32},
		{Name: "Track07", Channel: 6, Program: 24},
		{Name: "Track08", Channel: 7, Program: 52},
	},
}

func NewModel(broker *Broker, registry *SourceRegistry, render RenderFunc, recoveryFilePath string) *Model {
	ret := new(Model)
	ret.broker = broker
	ret.registry = registry
	ret.render = render
	ret.setScoreNoUndo(defaultScore.Copy())
	ret.d.RecoveryFilePath = recoveryFilePath
	if recoveryFilePath != "" {
		if bytes2, err := os.ReadFile(ret.d.RecoveryFilePath); err == nil {
			json.Unmarshal(bytes2, &ret.d)
			ret.sendScore()
		}
	}
	return ret
}

func (m *Model) MarshalRecovery() []byte {
	out, err := json.Marshal(m.d)
	if err != nil {
		return nil
	}
	if m.d.RecoveryFilePath != "" {
		os.Remove(m.d.RecoveryFilePath)
	}
	return out
}

func (m *Model) SaveRecovery() error {
	if m.d.RecoveryFilePath == "" {
		return nil
	}
	out, err := json.Marshal(m.d)
	if err != nil {
		return fmt.Errorf("could not marshal model: %w", err)
	}
	dir := filepath.Dir(m.d.RecoveryFilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create directory %v: %w", dir, err)
	}
	if err := os.WriteFile(m.d.RecoveryFilePath, out, 0644); err != nil {
		return fmt.Errorf("could not write recovery file: %w", err)
	}
	return nil
}

func (m *Model) UnmarshalRecovery(bytes []byte) {
	err := json.Unmarshal(bytes, &m.d)
	if err != nil {
		return
	}
	if m.d.RecoveryFilePath != "" {
		os.Remove(m.d.RecoveryFilePath)
	}
	m.sendScore()
}

// Close shuts down the player goroutine, waits until it has silenced
// everything (or 3 seconds have passed), and saves the crash recovery file.
func (m *Model) Close() {
	TrySend(m.broker.ClosePlayer, struct{}{})
	TimeoutReceive(m.broker.FinishedPlayer, 3*time.Second)
	if m.registry != nil {
		m.registry.Close()
	}
	m.SaveRecovery()
}

func (m *Model) FilePath() string         { return m.d.FilePath }
func (m *Model) SetFilePath(value string) { m.d.FilePath = value }

func (m *Model) ChangedSinceSave() bool         { return m.d.ChangedSinceSave }
func (m *Model) SetChangedSinceSave(value bool) { m.d.ChangedSinceSave = value }

// Score returns the current score. The caller must not mutate it; all edits
// go through the model so they get undo entries and reach the player.
func (m *Model) Score() tahti.Score { return m.d.Score }

// PlayerStatus returns the latest status the player has reported. It lags
// the player by at most one cycle.
func (m *Model) PlayerStatus() PlayerStatus { return m.playerStatus }

func (m *Model) Loop() Loop { return m.d.Loop }

func (m *Model) ResetScore() {
	m.SetScore(defaultScore.Copy())
	m.d.FilePath = ""
	m.d.ChangedSinceSave = false
}

func (m *Model) SetScore(score tahti.Score) {
	if err := score.Validate(); err != nil {
		m.Alerts().Add(fmt.Sprintf("Refusing to set score: %v", err), Error)
		return
	}
	m.saveUndo("SetScore", 0)
	m.setScoreNoUndo(score)
}

func (m *Model) setScoreNoUndo(score tahti.Score) {
	m.d.Score = score
	m.sendScore()
}

// sendScore sends a deep copy of the score to the player. Called after
// every mutation, so the player snapshot is never more than one message
// behind the editing surface.
func (m *Model) sendScore() {
	TrySend(m.broker.ToPlayer, any(m.d.Score.Copy()))
}

func (m *Model) sendToPlayer(msg any) {
	TrySend(m.broker.ToPlayer, msg)
}

// ProcessMessages drains the messages the player has sent since the last
// call. The editing surface calls this on every frame.
func (m *Model) ProcessMessages() {
loop:
	for {
		select {
		case msg := <-m.broker.ToModel:
			if msg.HasStatus {
				m.playerStatus = msg.Status
			}
			switch d := msg.Data.(type) {
			case Alert:
				m.Alerts().AddAlert(d)
			}
		default:
			break loop
		}
	}
}

// Undo / redo

func (m *Model) Undo() {
	if !m.CanUndo() {
		return
	}
	m.d.RedoStack = append(m.d.RedoStack, m.d.Score.Copy())
	m.setScoreNoUndo(m.d.UndoStack[len(m.d.UndoStack)-1])
	m.d.UndoStack = m.d.UndoStack[:len(m.d.UndoStack)-1]
	m.limitUndoRedoLengths()
	m.d.PrevUndoType = ""
}

func (m *Model) Redo() {
	if !m.CanRedo() {
		return
	}
	m.d.UndoStack = append(m.d.UndoStack, m.d.Score.Copy())
	m.setScoreNoUndo(m.d.RedoStack[len(m.d.RedoStack)-1])
	m.d.RedoStack = m.d.RedoStack[:len(m.d.RedoStack)-1]
	m.limitUndoRedoLengths()
	m.d.PrevUndoType = ""
}

func (m *Model) CanUndo() bool { return len(m.d.UndoStack) > 0 }
func (m *Model) CanRedo() bool { return len(m.d.RedoStack) > 0 }

func (m *Model) ClearUndoHistory() {
	if len(m.d.UndoStack) > 0 {
		m.d.UndoStack = m.d.UndoStack[:0]
	}
	if len(m.d.RedoStack) > 0 {
		m.d.RedoStack = m.d.RedoStack[:0]
	}
	m.d.PrevUndoType = ""
}

// saveUndo pushes a copy of the score to the undo stack, unless the
// previous undoable operation had the same type and fewer than undoSkipping
// operations have been coalesced into it, so e.g. dragging a note makes one
// undo entry instead of dozens.
func (m *Model) saveUndo(undoType string, undoSkipping int) {
	m.d.ChangedSinceSave = true
	if m.d.PrevUndoType == undoType && m.d.UndoSkipCounter < undoSkipping {
		m.d.UndoSkipCounter++
		return
	}
	m.d.PrevUndoType = undoType
	m.d.UndoSkipCounter = 0
	m.d.UndoStack = append(m.d.UndoStack, m.d.Score.Copy())
	m.d.RedoStack = m.d.RedoStack[:0]
	m.limitUndoRedoLengths()
}

func (m *Model) limitUndoRedoLengths() {
	if len(m.d.UndoStack) >= maxUndo {
		m.d.UndoStack = m.d.UndoStack[len(m.d.UndoStack)-maxUndo:]
	}
	if len(m.d.RedoStack) >= maxUndo {
		m.d.RedoStack = m.d.RedoStack[len(m.d.RedoStack)-maxUndo:]
	}
}

// Transport

func (m *Model) PlayFromStart()        { m.sendToPlayer(StartPlayMsg{Tick: 0}) }
func (m *Model) PlayFromTick(tick int) { m.sendToPlayer(StartPlayMsg{Tick: tick}) }
func (m *Model) Pause()                { m.sendToPlayer(PausePlayMsg{}) }
func (m *Model) Resume()               { m.sendToPlayer(ResumePlayMsg{}) }
func (m *Model) Stop()                 { m.sendToPlayer(StopPlayMsg{}) }
func (m *Model) Seek(tick int)         { m.sendToPlayer(SeekMsg{Tick: tick}) }
func (m *Model) Panic()                { m.sendToPlayer(PanicMsg{}) }

// TogglePlay pauses when playing, and resumes or starts otherwise.
func (m *Model) TogglePlay() {
	if m.playerStatus.State == PlayStatePlaying {
		m.Pause()
	} else {
		m.Resume()
	}
}

func (m *Model) SetLoop(loop Loop) {
	if loop.Start < 0 || loop.Length < 0 {
		loop = Loop{}
	}
	m.d.Loop = loop
	m.sendToPlayer(LoopMsg{Loop: loop})
}

// PreviewNoteOn plays a note outside the score, e.g. from a MIDI keyboard
// or the computer keyboard, on the current binding of the track.
func (m *Model) PreviewNoteOn(track, pitch, velocity int) {
	m.sendToPlayer(NoteOnMsg{Track: track, Pitch: pitch, Velocity: velocity})
}

func (m *Model) PreviewNoteOff(track, pitch int) {
	m.sendToPlayer(NoteOffMsg{Track: track, Pitch: pitch})
}

// Tempo and time signatures

// BPM returns the tempo at the start of the score, rounded to the nearest
// whole beat per minute.
func (m *Model) BPM() int {
	if len(m.d.Score.TempoMap) == 0 {
		return 0
	}
	return int(m.d.Score.TempoMap[0].BPM() + 0.5)
}

// SetBPM sets the tempo at the start of the score.
func (m *Model) SetBPM(value int) {
	value = min(max(value, 1), 999)
	if m.BPM() == value {
		return
	}
	m.saveUndo("SetBPM", 100)
	if len(m.d.Score.TempoMap) == 0 {
		m.d.Score.TempoMap = tahti.TempoMap{{Tick: 0}}
	}
	m.d.Score.TempoMap[0].MicrosPerBeat = 60000000 / value
	m.sendScore()
}

// SetTempoChange adds a tempo change, or updates the one already at the
// same tick.
func (m *Model) SetTempoChange(change tahti.TempoChange) {
	if change.Tick < 0 || change.MicrosPerBeat <= 0 {
		m.Alerts().Add(fmt.Sprintf("Invalid tempo change at tick %d", change.Tick), Error)
		return
	}
	m.saveUndo("SetTempoChange", 10)
	i := sort.Search(len(m.d.Score.TempoMap), func(i int) bool { return m.d.Score.TempoMap[i].Tick >= change.Tick })
	if i < len(m.d.Score.TempoMap) && m.d.Score.TempoMap[i].Tick == change.Tick {
		m.d.Score.TempoMap[i] = change
	} else {
		m.d.Score.TempoMap = append(m.d.Score.TempoMap, tahti.TempoChange{})
		copy(m.d.Score.TempoMap[i+1:], m.d.Score.TempoMap[i:])
		m.d.Score.TempoMap[i] = change
	}
	m.sendScore()
}

// DelTempoChange removes the tempo change at the given tick. The change at
// tick 0 cannot be removed, as every tick needs a defined tempo.
func (m *Model) DelTempoChange(tick int) {
	if tick == 0 {
		m.Alerts().Add("Cannot remove the tempo at the start of the score", Warning)
		return
	}
	for i, c := range m.d.Score.TempoMap {
		if c.Tick == tick {
			m.saveUndo("DelTempoChange", 0)
			m.d.Score.TempoMap = append(m.d.Score.TempoMap[:i], m.d.Score.TempoMap[i+1:]...)
			m.sendScore()
			return
		}
	}
}

func (m *Model) SetTimeSignature(sig tahti.TimeSignature) {
	if sig.Tick < 0 || sig.Numerator <= 0 || sig.Denominator <= 0 {
		m.Alerts().Add(fmt.Sprintf("Invalid time signature %d/%d", sig.Numerator, sig.Denominator), Error)
		return
	}
	m.saveUndo("SetTimeSignature", 10)
	i := sort.Search(len(m.d.Score.TimeSignatures), func(i int) bool { return m.d.Score.TimeSignatures[i].Tick >= sig.Tick })
	if i < len(m.d.Score.TimeSignatures) && m.d.Score.TimeSignatures[i].Tick == sig.Tick {
		m.d.Score.TimeSignatures[i] = sig
	} else {
		m.d.Score.TimeSignatures = append(m.d.Score.TimeSignatures, tahti.TimeSignature{})
		copy(m.d.Score.TimeSignatures[i+1:], m.d.Score.TimeSignatures[i:])
		m.d.Score.TimeSignatures[i] = sig
	}
	m.sendScore()
}

func (m *Model) DelTimeSignature(tick int) {
	if tick == 0 {
		m.Alerts().Add("Cannot remove the time signature at the start of the score", Warning)
		return
	}
	for i, s := range m.d.Score.TimeSignatures {
		if s.Tick == tick {
			m.saveUndo("DelTimeSignature", 0)
			m.d.Score.TimeSignatures = append(m.d.Score.TimeSignatures[:i], m.d.Score.TimeSignatures[i+1:]...)
			m.sendScore()
			return
		}
	}
}

// Note and control edits

func (m *Model) AddNote(track int, note tahti.Note) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	if err := note.Validate(); err != nil {
		m.Alerts().Add(err.Error(), Error)
		return
	}
	m.saveUndo("AddNote", 0)
	m.d.Score.Tracks[track].AddNote(note)
	m.sendScore()
}

func (m *Model) DelNote(track, index int) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	if index < 0 || index >= len(m.d.Score.Tracks[track].Notes) {
		return
	}
	m.saveUndo("DelNote", 0)
	m.d.Score.Tracks[track].DelNote(index)
	m.sendScore()
}

// MoveNote shifts a note in time and pitch, returning the index the note
// ended up at. Repeated moves coalesce into a single undo entry.
func (m *Model) MoveNote(track, index, deltaTick, deltaPitch int) int {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return index
	}
	if index < 0 || index >= len(m.d.Score.Tracks[track].Notes) {
		return index
	}
	m.saveUndo("MoveNote", 100)
	ret := m.d.Score.Tracks[track].MoveNote(index, deltaTick, deltaPitch)
	m.sendScore()
	return ret
}

func (m *Model) SetNoteLength(track, index, length int) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	t := &m.d.Score.Tracks[track]
	if index < 0 || index >= len(t.Notes) {
		return
	}
	m.saveUndo("SetNoteLength", 100)
	t.Notes[index].Length = max(length, 1)
	m.sendScore()
}

func (m *Model) SetNoteVelocity(track, index, velocity int) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	t := &m.d.Score.Tracks[track]
	if index < 0 || index >= len(t.Notes) {
		return
	}
	m.saveUndo("SetNoteVelocity", 100)
	t.Notes[index].Velocity = min(max(velocity, 0), 127)
	m.sendScore()
}

func (m *Model) AddControl(track int, control tahti.Control) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	if err := control.Validate(); err != nil {
		m.Alerts().Add(err.Error(), Error)
		return
	}
	m.saveUndo("AddControl", 0)
	m.d.Score.Tracks[track].AddControl(control)
	m.sendScore()
}

func (m *Model) DelControl(track, index int) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	if index < 0 || index >= len(m.d.Score.Tracks[track].Controls) {
		return
	}
	m.saveUndo("DelControl", 0)
	m.d.Score.Tracks[track].DelControl(index)
	m.sendScore()
}

// Track edits

func (m *Model) AddTrack() {
	m.saveUndo("AddTrack", 0)
	n := len(m.d.Score.Tracks)
	m.d.Score.Tracks = append(m.d.Score.Tracks, tahti.Track{
		Name:    fmt.Sprintf("Track%02d", n+1),
		Channel: n % 16,
		Program: tahti.DefaultTrackPrograms[n%16],
	})
	m.sendScore()
}

func (m *Model) CanDeleteTrack() bool { return len(m.d.Score.Tracks) > 1 }

// DeleteTrack removes the track, unbinds it and shifts the bindings of the
// tracks after it down by one, so they keep their sounds.
func (m *Model) DeleteTrack(track int) {
	if !m.CanDeleteTrack() || track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	m.saveUndo("DeleteTrack", 0)
	m.d.Score.Tracks = append(m.d.Score.Tracks[:track], m.d.Score.Tracks[track+1:]...)
	if m.registry != nil {
		m.registry.RemoveTrack(track)
	}
	m.sendScore()
}

func (m *Model) SetTrackName(track int, name string) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	m.saveUndo("SetTrackName", 100)
	m.d.Score.Tracks[track].Name = name
	m.sendScore()
}

func (m *Model) SetTrackChannel(track, channel int) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	m.saveUndo("SetTrackChannel", 10)
	m.d.Score.Tracks[track].Channel = min(max(channel, 0), 15)
	m.sendScore()
}

func (m *Model) SetTrackProgram(track, program int) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	m.saveUndo("SetTrackProgram", 10)
	m.d.Score.Tracks[track].Program = min(max(program, -1), 127)
	m.sendScore()
}

func (m *Model) SetTrackMute(track int, mute bool) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	m.saveUndo("SetTrackMute", 0)
	m.d.Score.Tracks[track].Mute = mute
	m.sendScore()
	m.silenceInaudible()
}

func (m *Model) SetTrackSolo(track int, solo bool) {
	if track < 0 || track >= len(m.d.Score.Tracks) {
		return
	}
	m.saveUndo("SetTrackSolo", 0)
	m.d.Score.Tracks[track].Solo = solo
	m.sendScore()
	m.silenceInaudible()
}

// silenceInaudible stops the sounding notes of every track that the mute
// and solo flags have just made inaudible, so muting is heard immediately
// instead of at the next note off.
func (m *Model) silenceInaudible() {
	if m.registry == nil {
		return
	}
	anySolo := false
	for i := range m.d.Score.Tracks {
		if m.d.Score.Tracks[i].Solo {
			anySolo = true
			break
		}
	}
	for i := range m.d.Score.Tracks {
		t := &m.d.Score.Tracks[i]
		if t.Mute || (anySolo && !t.Solo) {
			m.registry.router.SilenceTrack(i)
		}
	}
}

// Sources and bindings

func (m *Model) RegisterInternalSource(name string, channel, program int) tahti.SourceID {
	return m.registry.Register(tahti.Source{
		Kind:    tahti.SourceInternal,
		Name:    name,
		Channel: min(max(channel, 0), 15),
		Program: min(max(program, 0), 127),
	})
}

func (m *Model) RegisterBankSource(path string) tahti.SourceID {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return m.registry.Register(tahti.Source{
		Kind: tahti.SourceBank,
		Name: name,
		Path: path,
	})
}

// RegisterSynth registers the internal synthesizer with its embedded
// default bank. It is a bank source, so tracks bound to it get the default
// per track programs and channels.
func (m *Model) RegisterSynth() tahti.SourceID {
	return m.registry.Register(tahti.Source{
		Kind: tahti.SourceBank,
		Name: "Synth",
	})
}

func (m *Model) RegisterPortSource(port string) tahti.SourceID {
	return m.registry.Register(tahti.Source{
		Kind: tahti.SourcePort,
		Name: port,
		Port: port,
	})
}

func (m *Model) UnregisterSource(id tahti.SourceID) {
	m.registry.Unregister(id)
}

func (m *Model) BindTrack(track int, id tahti.SourceID) {
	if err := m.registry.Bind(track, id); err != nil {
		m.Alerts().Add(err.Error(), Error)
	}
}

func (m *Model) UnbindTrack(track int) {
	m.registry.Unbind(track)
}

func (m *Model) Sources() []tahti.Source { return m.registry.Sources() }

func (m *Model) TrackBinding(track int) (tahti.Source, bool) {
	return m.registry.Binding(track)
}

// ScanBanks registers a bank source for every .yml or .yaml file in the
// directory. Banks registered earlier but no longer on disk stay
// registered; unregistering is an explicit user action.
func (m *Model) ScanBanks(dir string) {
	var paths []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		found, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			m.Alerts().Add(fmt.Sprintf("Error scanning banks: %v", err), Error)
			return
		}
		paths = append(paths, found...)
	}
	sort.Strings(paths)
	for _, path := range paths {
		m.RegisterBankSource(path)
	}
}

// ScanPorts registers a port source for every MIDI output port currently
// available.
func (m *Model) ScanPorts(ctx MIDIContext) {
	ctx.OutputPorts(func(port string) bool {
		m.RegisterPortSource(port)
		return true
	})
}
