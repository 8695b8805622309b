package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/sequencer"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const uiRefreshInterval = 50 * time.Millisecond

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("#7D56F4")).Foreground(lipgloss.Color("#FFFFFF"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	playingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true)
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	kindTitle = cases.Title(language.English)
)

type (
	// ui is the bubbletea model of the tracker. All the sequencer state lives
	// in the sequencer.Model; ui only keeps the cursor and the terminal size.
	ui struct {
		model  *sequencer.Model
		midi   sequencer.MIDIContext
		cursor int
		width  int
		height int
		last   time.Time
	}

	refreshMsg time.Time

	previewOffMsg struct {
		track int
		pitch int
	}
)

func newUI(model *sequencer.Model, midi sequencer.MIDIContext) *ui {
	return &ui{model: model, midi: midi, last: time.Now()}
}

func refresh() tea.Cmd {
	return tea.Tick(uiRefreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (u *ui) Init() tea.Cmd { return refresh() }

func (u *ui) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshMsg:
		now := time.Time(msg)
		u.model.ProcessMessages()
		u.model.Alerts().Update(now.Sub(u.last))
		u.last = now
		return u, refresh()
	case previewOffMsg:
		u.model.PreviewNoteOff(msg.track, msg.pitch)
		return u, nil
	case tea.WindowSizeMsg:
		u.width, u.height = msg.Width, msg.Height
		return u, nil
	case tea.KeyMsg:
		return u.handleKey(msg)
	}
	return u, nil
}

func (u *ui) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	score := u.model.Score()
	if u.cursor >= len(score.Tracks) {
		u.cursor = len(score.Tracks) - 1
	}
	switch msg.String() {
	case "q", "ctrl+c":
		return u, tea.Quit
	case " ":
		u.model.TogglePlay()
	case "enter":
		u.model.PlayFromStart()
	case "s":
		u.model.Stop()
	case "left":
		u.seekByMeasure(-1)
	case "right":
		u.seekByMeasure(1)
	case "up", "k":
		if u.cursor > 0 {
			u.cursor--
		}
	case "down", "j":
		if u.cursor < len(score.Tracks)-1 {
			u.cursor++
		}
	case "m":
		u.model.SetTrackMute(u.cursor, !score.Tracks[u.cursor].Mute)
	case "o":
		u.model.SetTrackSolo(u.cursor, !score.Tracks[u.cursor].Solo)
	case "b":
		u.cycleBinding()
	case "n":
		u.model.AddTrack()
	case "d":
		if u.model.CanDeleteTrack() {
			u.model.DeleteTrack(u.cursor)
			if u.cursor >= len(u.model.Score().Tracks) {
				u.cursor = len(u.model.Score().Tracks) - 1
			}
		}
	case "u":
		u.model.Undo()
	case "r":
		u.model.Redo()
	case "+", "=":
		u.model.SetBPM(u.model.BPM() + 1)
	case "-", "_":
		u.model.SetBPM(u.model.BPM() - 1)
	case "l":
		u.loopHere()
	case "L":
		u.model.SetLoop(sequencer.Loop{})
	case "w":
		u.save()
	case "x":
		u.exportWav()
	case "i":
		u.cycleMIDIInput()
	case "p":
		u.model.Panic()
	case "z":
		track := u.cursor
		u.model.PreviewNoteOn(track, 60, 100)
		return u, tea.Tick(300*time.Millisecond, func(time.Time) tea.Msg {
			return previewOffMsg{track: track, pitch: 60}
		})
	}
	return u, nil
}

// seekByMeasure moves the playhead one measure forwards or backwards.
func (u *ui) seekByMeasure(direction int) {
	score := u.model.Score()
	playhead := u.model.PlayerStatus().Playhead
	tpm, err := score.TicksPerMeasureAt(playhead)
	if err != nil {
		return
	}
	u.model.Seek(max(0, playhead+direction*tpm))
}

// loopHere sets the loop to one measure starting at the playhead.
func (u *ui) loopHere() {
	score := u.model.Score()
	playhead := u.model.PlayerStatus().Playhead
	tpm, err := score.TicksPerMeasureAt(playhead)
	if err != nil {
		return
	}
	u.model.SetLoop(sequencer.Loop{Start: playhead, Length: tpm})
}

// cycleBinding rebinds the selected track to the next registered source,
// going through all of them and ending with unbound.
func (u *ui) cycleBinding() {
	sources := u.model.Sources()
	if len(sources) == 0 {
		return
	}
	current, bound := u.model.TrackBinding(u.cursor)
	if !bound {
		u.model.BindTrack(u.cursor, sources[0].ID())
		return
	}
	for i := range sources {
		if sources[i].ID() == current.ID() {
			if i+1 < len(sources) {
				u.model.BindTrack(u.cursor, sources[i+1].ID())
			} else {
				u.model.UnbindTrack(u.cursor)
			}
			return
		}
	}
	u.model.BindTrack(u.cursor, sources[0].ID())
}

func (u *ui) save() {
	path := u.model.FilePath()
	if path == "" {
		path = "score.yml"
	}
	f, err := os.Create(path)
	if err != nil {
		u.model.Alerts().Add(fmt.Sprintf("Error creating file %v: %v", path, err), sequencer.Error)
		return
	}
	u.model.WriteScore(f)
}

func (u *ui) exportWav() {
	path := u.model.FilePath()
	if path == "" {
		path = "score"
	}
	path = strings.TrimSuffix(path, filepath.Ext(path)) + ".wav"
	f, err := os.Create(path)
	if err != nil {
		u.model.Alerts().Add(fmt.Sprintf("Error creating file %v: %v", path, err), sequencer.Error)
		return
	}
	u.model.WriteWav(f, true)
}

// cycleMIDIInput opens the next MIDI input device, wrapping around to none.
func (u *ui) cycleMIDIInput() {
	var devices []sequencer.MIDIInputDevice
	u.midi.Inputs(func(in sequencer.MIDIInputDevice) bool {
		devices = append(devices, in)
		return true
	})
	if len(devices) == 0 {
		u.model.Alerts().Add("No MIDI input devices found", sequencer.Warning)
		return
	}
	open := -1
	for i, d := range devices {
		if d.IsOpen() {
			open = i
			break
		}
	}
	next := open + 1
	if next >= len(devices) {
		devices[open].Close()
		u.model.Alerts().Add("MIDI input closed", sequencer.Info)
		return
	}
	if err := devices[next].Open(); err != nil {
		u.model.Alerts().Add(fmt.Sprintf("Error opening MIDI input %v: %v", devices[next], err), sequencer.Error)
		return
	}
	u.model.Alerts().Add(fmt.Sprintf("MIDI input: %v", devices[next]), sequencer.Info)
}

func (u *ui) View() string {
	var b strings.Builder
	score := u.model.Score()
	status := u.model.PlayerStatus()

	name := u.model.FilePath()
	if name == "" {
		name = "untitled"
	}
	if u.model.ChangedSinceSave() {
		name += "*"
	}
	b.WriteString(titleStyle.Render("tahti-track") + "  " + name + "\n\n")
	b.WriteString(u.viewTransport(score, status) + "\n\n")
	b.WriteString(u.viewTracks(score))
	b.WriteString(u.viewSources())
	b.WriteString("\n")
	b.WriteString(u.viewAlerts())
	b.WriteString(helpStyle.Render("space: play/pause • enter: play from start • s: stop • ←/→: seek measure • l/L: loop/clear") + "\n")
	b.WriteString(helpStyle.Render("↑/↓: track • m: mute • o: solo • b: source • z: preview • n/d: add/delete track") + "\n")
	b.WriteString(helpStyle.Render("u/r: undo/redo • +/-: tempo • w: save • x: export wav • i: midi input • p: panic • q: quit"))
	return b.String()
}

func (u *ui) viewTransport(score tahti.Score, status sequencer.PlayerStatus) string {
	symbol := "■"
	style := mutedStyle
	switch status.State {
	case sequencer.PlayStatePlaying:
		symbol, style = "▶", playingStyle
	case sequencer.PlayStatePaused:
		symbol, style = "‖", warningStyle
	}
	position := "?:?"
	if measure, beat, err := score.TimeSignatures.MeasureBeatAt(status.Playhead, score.TicksPerBeat); err == nil {
		position = fmt.Sprintf("%d:%d", measure+1, beat+1)
	}
	parts := []string{
		style.Render(symbol) + " " + status.State.String(),
		fmt.Sprintf("%s (tick %d)", position, status.Playhead),
		fmt.Sprintf("%d BPM", u.model.BPM()),
	}
	if loop := u.model.Loop(); loop.Length > 0 {
		parts = append(parts, fmt.Sprintf("loop %d+%d", loop.Start, loop.Length))
	}
	if status.Sounding > 0 {
		parts = append(parts, fmt.Sprintf("%d sounding", status.Sounding))
	}
	var midiInput string
	u.midi.Inputs(func(in sequencer.MIDIInputDevice) bool {
		if in.IsOpen() {
			midiInput = in.String()
			return false
		}
		return true
	})
	if midiInput != "" {
		parts = append(parts, "MIDI in: "+midiInput)
	}
	return strings.Join(parts, "  |  ")
}

func (u *ui) viewTracks(score tahti.Score) string {
	var b strings.Builder
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %-12s %2s %3s %-2s %-28s %5s", "NAME", "CH", "PRG", "", "SOURCE", "NOTES")) + "\n")
	for i := range score.Tracks {
		t := &score.Tracks[i]
		flags := ""
		if t.Mute {
			flags += "M"
		}
		if t.Solo {
			flags += "S"
		}
		label := "(unbound)"
		if source, ok := u.model.TrackBinding(i); ok {
			label = fmt.Sprintf("%s (%s)", source.Name, kindTitle.String(string(source.Kind)))
		}
		cursor := "  "
		if i == u.cursor {
			cursor = "> "
		}
		row := fmt.Sprintf("%s%-12s %2d %3d %-2s %-28s %5d", cursor, t.Name, t.Channel, t.Program, flags, label, len(t.Notes))
		switch {
		case i == u.cursor:
			b.WriteString(selectedStyle.Render(row))
		case t.Mute:
			b.WriteString(mutedStyle.Render(row))
		default:
			b.WriteString(row)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (u *ui) viewSources() string {
	var names []string
	for _, s := range u.model.Sources() {
		names = append(names, fmt.Sprintf("%s (%s)", s.Name, s.Kind))
	}
	if len(names) == 0 {
		return ""
	}
	return mutedStyle.Render("sources: "+strings.Join(names, ", ")) + "\n"
}

func (u *ui) viewAlerts() string {
	var b strings.Builder
	u.model.Alerts().Iterate(func(index int, a sequencer.Alert) bool {
		style := helpStyle
		switch a.Priority {
		case sequencer.Error:
			style = errorStyle
		case sequencer.Warning:
			style = warningStyle
		}
		b.WriteString(style.Render(a.Message) + "\n")
		return true
	})
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}
