package sequencer

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/vsariola/tahti"
)

type (
	// Player is the playback scheduler. It runs in its own goroutine (see
	// Run), waking up every few milliseconds to convert the wall clock time
	// elapsed since its anchor point into a tick position, and dispatching
	// every score event in [playhead, current tick) through the router. It
	// never touches shared score data: the model sends it deep copies, and
	// adopting one re-anchors the clock so tempo edits take effect without
	// skips.
	//
	// Note offs are not read from the score: dispatching a note on pushes
	// the end tick of the note into a pending heap, and offs fire when the
	// playhead passes them. A note off can therefore never fire before its
	// note on, no matter how the score is edited mid flight, and note
	// lengths follow the tempo map in effect when the off comes up.
	Player struct {
		broker *Broker
		router *Router

		score      tahti.Score
		scoreValid bool
		endTick    int

		state     PlayState
		playhead  int // next tick to dispatch
		startTick int // where stop returns the playhead to
		loop      Loop

		refMicros int64 // score time of the anchor point
		refTime   time.Time

		pendingOffs offHeap
		noteIdx     []int
		ctrlIdx     []int
		audibleBuf  []bool
	}

	// Loop makes the player wrap from Start+Length back to Start. A Length
	// of 0 disables looping.
	Loop struct {
		Start  int
		Length int
	}

	// StartPlayMsg starts playback from the given tick, regardless of what
	// the player was doing before.
	StartPlayMsg struct {
		Tick int
	}

	// ResumePlayMsg continues playback from the playhead. Notes left
	// sounding by a pause keep sounding; their note offs fire at their
	// original score ticks.
	ResumePlayMsg struct{}

	// PausePlayMsg halts the advancement of the playhead without silencing
	// anything.
	PausePlayMsg struct{}

	// StopPlayMsg stops playback, silences every sounding note and returns
	// the playhead to where playback started. Stopping twice is fine.
	StopPlayMsg struct{}

	// SeekMsg moves the playhead, silencing all sounding notes first.
	SeekMsg struct {
		Tick int
	}

	// LoopMsg sets the loop region.
	LoopMsg struct {
		Loop Loop
	}

	// PanicMsg silences everything without changing the transport state.
	PanicMsg struct{}

	// NoteOnMsg and NoteOffMsg play notes outside the score, e.g. previews
	// from a MIDI keyboard. They route like score notes of the same track.
	NoteOnMsg struct {
		Track    int
		Pitch    int
		Velocity int
	}

	NoteOffMsg struct {
		Track int
		Pitch int
	}

	pendingOff struct {
		tick  int
		track int
		pitch int
	}

	offHeap []pendingOff
)

const playerTickInterval = 4 * time.Millisecond

func NewPlayer(broker *Broker, router *Router) *Player {
	return &Player{
		broker: broker,
		router: router,
	}
}

// Run runs the player until a message is sent to broker.ClosePlayer. When
// returning, everything sounding has been silenced and
// broker.FinishedPlayer is closed.
func (p *Player) Run() {
	defer close(p.broker.FinishedPlayer)
	ticker := time.NewTicker(playerTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.broker.ClosePlayer:
			p.stopPlaying()
			return
		case now := <-ticker.C:
			p.tick(now)
		}
	}
}

// tick is one player cycle: process the messages from the model, advance
// the playhead if playing, and report the status back.
func (p *Player) tick(now time.Time) {
	p.processMessages(now)
	if p.state == PlayStatePlaying {
		p.advance(now)
	}
	p.send(nil)
}

func (p *Player) processMessages(now time.Time) {
loop:
	for {
		select {
		case msg := <-p.broker.ToPlayer:
			switch m := msg.(type) {
			case tahti.Score:
				if err := m.Validate(); err != nil {
					p.sendAlert("PlayerInvalidScore", fmt.Sprintf("Not adopting score: %v", err), Error)
					break
				}
				p.score = m
				p.scoreValid = true
				p.endTick = m.EndTick()
				p.anchor(p.playhead, now)
			case StartPlayMsg:
				p.startPlay(m.Tick, now)
			case ResumePlayMsg:
				switch p.state {
				case PlayStatePaused:
					p.anchor(p.playhead, now)
					p.state = PlayStatePlaying
				case PlayStateStopped:
					p.startPlay(p.playhead, now)
				}
			case PausePlayMsg:
				if p.state == PlayStatePlaying {
					p.state = PlayStatePaused
				}
			case StopPlayMsg:
				p.stopPlaying()
			case SeekMsg:
				p.router.SilenceAll()
				p.pendingOffs = p.pendingOffs[:0]
				p.anchor(max(m.Tick, 0), now)
				if p.state != PlayStatePlaying {
					p.startTick = p.playhead
				}
			case LoopMsg:
				p.loop = m.Loop
				if p.loop.Start < 0 || p.loop.Length < 0 {
					p.loop = Loop{}
				}
			case PanicMsg:
				p.router.SilenceAll()
				p.pendingOffs = p.pendingOffs[:0]
			case NoteOnMsg:
				p.router.PlayNote(m.Track, m.Pitch, m.Velocity)
			case NoteOffMsg:
				p.router.StopNote(m.Track, m.Pitch)
			}
		default:
			break loop
		}
	}
}

func (p *Player) startPlay(tick int, now time.Time) {
	if !p.scoreValid {
		p.sendAlert("PlayerInvalidScore", "Cannot play: no score", Error)
		return
	}
	p.router.SilenceAll()
	p.pendingOffs = p.pendingOffs[:0]
	p.startTick = max(tick, 0)
	if !p.anchor(p.startTick, now) {
		return
	}
	p.state = PlayStatePlaying
}

func (p *Player) stopPlaying() {
	p.router.SilenceAll()
	p.pendingOffs = p.pendingOffs[:0]
	p.state = PlayStateStopped
	p.playhead = p.startTick
	if p.scoreValid {
		p.resetCursors()
	}
}

// anchor moves the playhead to the given tick and anchors the score time of
// that tick to the current wall clock, so advance measures elapsed time
// from here on. Also re-finds the per track cursors.
func (p *Player) anchor(tick int, now time.Time) bool {
	p.playhead = tick
	p.refTime = now
	if !p.scoreValid {
		return false
	}
	micros, err := p.score.TimeAt(tick)
	if err != nil {
		p.sendAlert("PlayerTime", fmt.Sprintf("Cannot anchor playback: %v", err), Error)
		p.state = PlayStateStopped
		return false
	}
	p.refMicros = micros
	p.resetCursors()
	return true
}

func (p *Player) resetCursors() {
	if len(p.noteIdx) != len(p.score.Tracks) {
		p.noteIdx = make([]int, len(p.score.Tracks))
		p.ctrlIdx = make([]int, len(p.score.Tracks))
	}
	for i := range p.score.Tracks {
		p.noteIdx[i] = p.score.Tracks[i].FirstNoteAt(p.playhead)
		p.ctrlIdx[i] = p.score.Tracks[i].FirstControlAt(p.playhead)
	}
}

// advance converts the wall clock time since the anchor into the current
// tick and dispatches everything from the playhead up to it.
func (p *Player) advance(now time.Time) {
	elapsed := now.Sub(p.refTime).Microseconds()
	target, err := p.score.TickAt(p.refMicros + elapsed)
	if err != nil {
		p.sendAlert("PlayerTime", fmt.Sprintf("Stopping playback: %v", err), Error)
		p.stopPlaying()
		return
	}
	if end := p.loop.Start + p.loop.Length; p.loop.Length > 0 && p.playhead <= end && target >= end {
		p.dispatchUpTo(end)
		p.router.SilenceAll()
		p.pendingOffs = p.pendingOffs[:0]
		p.anchor(p.loop.Start, now)
		return
	}
	if target > p.playhead {
		p.dispatchUpTo(target)
		p.playhead = target
	}
	if p.loop.Length == 0 && p.endTick > 0 && p.playhead >= p.endTick && len(p.pendingOffs) == 0 {
		p.stopPlaying()
	}
}

// dispatchUpTo dispatches all events strictly before the given tick, in
// tick order; at equal ticks note offs fire first, then control changes,
// then note ons, so a note retriggered back to back is never cut by the
// off of its predecessor.
func (p *Player) dispatchUpTo(to int) {
	audible := p.audible()
	for {
		next := to
		if len(p.pendingOffs) > 0 && p.pendingOffs[0].tick < next {
			next = p.pendingOffs[0].tick
		}
		for i := range p.score.Tracks {
			t := &p.score.Tracks[i]
			if j := p.noteIdx[i]; j < len(t.Notes) && t.Notes[j].Tick < next {
				next = t.Notes[j].Tick
			}
			if j := p.ctrlIdx[i]; j < len(t.Controls) && t.Controls[j].Tick < next {
				next = t.Controls[j].Tick
			}
		}
		if next >= to {
			break
		}
		p.dispatchTick(next, audible)
	}
}

func (p *Player) dispatchTick(tick int, audible []bool) {
	for len(p.pendingOffs) > 0 && p.pendingOffs[0].tick <= tick {
		off := heap.Pop(&p.pendingOffs).(pendingOff)
		p.router.StopNote(off.track, off.pitch)
	}
	for i := range p.score.Tracks {
		t := &p.score.Tracks[i]
		for p.ctrlIdx[i] < len(t.Controls) && t.Controls[p.ctrlIdx[i]].Tick == tick {
			c := t.Controls[p.ctrlIdx[i]]
			p.ctrlIdx[i]++
			if audible[i] {
				p.router.SendControl(i, c.Controller, c.Value)
			}
		}
	}
	for i := range p.score.Tracks {
		t := &p.score.Tracks[i]
		for p.noteIdx[i] < len(t.Notes) && t.Notes[p.noteIdx[i]].Tick == tick {
			n := t.Notes[p.noteIdx[i]]
			p.noteIdx[i]++
			if !audible[i] {
				continue
			}
			p.router.PlayNote(i, n.Pitch, n.Velocity)
			heap.Push(&p.pendingOffs, pendingOff{tick: n.End(), track: i, pitch: n.Pitch})
		}
	}
}

// audible returns per track whether its events should be dispatched: muted
// tracks are skipped, and if any track is solo, only solo tracks play.
func (p *Player) audible() []bool {
	if len(p.audibleBuf) != len(p.score.Tracks) {
		p.audibleBuf = make([]bool, len(p.score.Tracks))
	}
	anySolo := false
	for i := range p.score.Tracks {
		if p.score.Tracks[i].Solo {
			anySolo = true
			break
		}
	}
	for i := range p.score.Tracks {
		t := &p.score.Tracks[i]
		p.audibleBuf[i] = !t.Mute && (!anySolo || t.Solo)
	}
	return p.audibleBuf
}

func (p *Player) send(data any) {
	TrySend(p.broker.ToModel, MsgToModel{
		HasStatus: true,
		Status: PlayerStatus{
			State:    p.state,
			Playhead: p.playhead,
			Sounding: p.router.NumSounding(),
		},
		Data: data,
	})
}

func (p *Player) sendAlert(name, message string, priority AlertPriority) {
	p.send(Alert{Name: name, Priority: priority, Message: message, Duration: defaultAlertDuration})
}

func (h offHeap) Len() int           { return len(h) }
func (h offHeap) Less(i, j int) bool { return h[i].tick < h[j].tick }
func (h offHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *offHeap) Push(x any) {
	*h = append(*h, x.(pendingOff))
}

func (h *offHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
