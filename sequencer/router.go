package sequencer

import (
	"fmt"
	"sync"

	"github.com/vsariola/tahti"
)

type (
	// Router translates track events into backend messages using the routes
	// the registry has set up. It owns the bookkeeping of which notes are
	// sounding on which backend, so that notes are always stopped on the
	// route they were started on, even if the track has been rebound since.
	// The player and the model call it from different goroutines; the mutex
	// also guarantees that a route swap never lands between the route lookup
	// and the send of a single note. Backend sends never block on I/O, so
	// holding the lock across them is fine.
	Router struct {
		broker   *Broker
		routes   map[int]Route
		sounding map[soundKey]Route
		programs map[progKey]int

		mutex sync.RWMutex
	}

	// Route is where the events of a track go: a backend, the channel on it,
	// and the program the track plays with. Program -1 means the program of
	// the backend channel is left untouched.
	Route struct {
		Backend tahti.Backend
		Channel int
		Program int
	}

	soundKey struct {
		track int
		pitch int
	}

	// Backends are pointer types, so they are usable as map keys.
	progKey struct {
		backend tahti.Backend
		channel int
	}

	// RoutingError reports a failed backend send. It is not fatal: the
	// player keeps going and the sounding note bookkeeping stays consistent.
	RoutingError struct {
		Track int
		Op    string
		Err   error
	}
)

func NewRouter(broker *Broker) *Router {
	return &Router{
		broker:   broker,
		routes:   make(map[int]Route),
		sounding: make(map[soundKey]Route),
		programs: make(map[progKey]int),
	}
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("track %d %s: %v", e.Track, e.Op, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// PlayNote resolves the current route of the track and sends a note on. An
// unbound track is not an error; the note is silently dropped. On success
// the (track, pitch) pair is registered as sounding on the route it was
// triggered on.
func (r *Router) PlayNote(track, pitch, velocity int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	route, ok := r.routes[track]
	if !ok {
		return nil
	}
	if route.Program >= 0 {
		key := progKey{backend: route.Backend, channel: route.Channel}
		if current, ok := r.programs[key]; !ok || current != route.Program {
			if err := route.Backend.ProgramChange(route.Channel, route.Program); err != nil {
				r.report(&RoutingError{Track: track, Op: "program change", Err: err})
			} else {
				r.programs[key] = route.Program
			}
		}
	}
	if err := route.Backend.NoteOn(route.Channel, pitch, velocity); err != nil {
		err := &RoutingError{Track: track, Op: "note on", Err: err}
		r.report(err)
		return err
	}
	r.sounding[soundKey{track: track, pitch: pitch}] = route
	return nil
}

// StopNote sends a note off for a note started by PlayNote, on the route it
// was started on. The pair is marked stopped even if the send fails, so a
// failing backend cannot cause stuck bookkeeping.
func (r *Router) StopNote(track, pitch int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.stopNote(soundKey{track: track, pitch: pitch})
}

func (r *Router) stopNote(key soundKey) error {
	route, ok := r.sounding[key]
	if !ok {
		return nil
	}
	delete(r.sounding, key)
	if err := route.Backend.NoteOff(route.Channel, key.pitch); err != nil {
		err := &RoutingError{Track: key.track, Op: "note off", Err: err}
		r.report(err)
		return err
	}
	return nil
}

// SendControl sends a control change on the current route of the track.
// Unbound tracks drop the message silently, like PlayNote.
func (r *Router) SendControl(track, controller, value int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	route, ok := r.routes[track]
	if !ok {
		return nil
	}
	if err := route.Backend.ControlChange(route.Channel, controller, value); err != nil {
		err := &RoutingError{Track: track, Op: "control change", Err: err}
		r.report(err)
		return err
	}
	return nil
}

// SetRoute points the track at a new route, first stopping every note the
// track has sounding on its old route, so rebinding mid playback cannot
// leave stuck notes.
func (r *Router) SetRoute(track int, route Route) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.silenceTrack(track)
	r.routes[track] = route
}

// ClearRoute removes the route of the track, stopping its sounding notes.
// Events of the track are dropped until a new route is set.
func (r *Router) ClearRoute(track int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.silenceTrack(track)
	delete(r.routes, track)
}

// SilenceTrack stops every note currently sounding on the track, without
// touching its route.
func (r *Router) SilenceTrack(track int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.silenceTrack(track)
}

func (r *Router) silenceTrack(track int) {
	for key := range r.sounding {
		if key.track == track {
			r.stopNote(key)
		}
	}
}

// SilenceAll stops every sounding note on every track. It is idempotent:
// calling it twice sends nothing the second time.
func (r *Router) SilenceAll() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for key := range r.sounding {
		r.stopNote(key)
	}
}

// NumSounding returns the number of (track, pitch) pairs currently sounding.
func (r *Router) NumSounding() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sounding)
}

// Sounding returns the pitches currently sounding on the track, in no
// particular order.
func (r *Router) Sounding(track int) []int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	var ret []int
	for key := range r.sounding {
		if key.track == track {
			ret = append(ret, key.pitch)
		}
	}
	return ret
}

func (r *Router) report(err error) {
	TrySend(r.broker.ToModel, MsgToModel{Data: Alert{
		Name:     "RoutingError",
		Priority: Error,
		Message:  err.Error(),
		Duration: defaultAlertDuration,
	}})
}
