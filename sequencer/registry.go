package sequencer

import (
	"fmt"
	"sync"

	"github.com/vsariola/tahti"
)

type (
	// BackendProvider resolves a source into a backend that plays it. The
	// internal synthesizer provides backends for internal and bank sources,
	// the MIDI context for port sources.
	BackendProvider interface {
		Backend(source tahti.Source) (tahti.Backend, error)
	}

	// SourceRegistry is the set of sound sources known to the sequencer and
	// the bindings of tracks to them. Binding resolves the source to a
	// backend (lazily, cached per source) and keeps the router's routes in
	// sync, so every mutation here that can affect a sounding note silences
	// it first, through the router. At most one source is bound per track;
	// several tracks may share a source, each with its own channel.
	SourceRegistry struct {
		broker    *Broker
		router    *Router
		providers map[tahti.SourceKind]BackendProvider

		sources  map[tahti.SourceID]tahti.Source
		order    []tahti.SourceID
		bindings map[int]tahti.SourceID
		assigned map[assignKey]assignment
		backends map[tahti.SourceID]tahti.Backend

		mutex sync.Mutex
	}

	assignKey struct {
		track  int
		source tahti.SourceID
	}

	// assignment is the program and channel a track plays a source with.
	// For banks and ports it is created from the per track defaults when the
	// source is first bound to the track, and remembered from then on.
	assignment struct {
		program int
		channel int
	}
)

func NewSourceRegistry(broker *Broker, router *Router) *SourceRegistry {
	return &SourceRegistry{
		broker:    broker,
		router:    router,
		providers: make(map[tahti.SourceKind]BackendProvider),
		sources:   make(map[tahti.SourceID]tahti.Source),
		bindings:  make(map[int]tahti.SourceID),
		assigned:  make(map[assignKey]assignment),
		backends:  make(map[tahti.SourceID]tahti.Backend),
	}
}

// Provide sets the backend provider for a source kind. Sources of kinds
// without a provider can be registered but not bound.
func (r *SourceRegistry) Provide(kind tahti.SourceKind, provider BackendProvider) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.providers[kind] = provider
}

// Register adds the source to the registry, or updates it if a source with
// the same ID is already registered. Tracks bound to an updated source get
// their routes refreshed so the update is heard immediately.
func (r *SourceRegistry) Register(source tahti.Source) tahti.SourceID {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	id := source.ID()
	if _, ok := r.sources[id]; !ok {
		r.order = append(r.order, id)
	}
	r.sources[id] = source
	for track, bound := range r.bindings {
		if bound == id {
			r.refresh(track)
		}
	}
	return id
}

// Unregister first unbinds every track bound to the source, silencing their
// sounding notes, then removes the source and closes its backend.
func (r *SourceRegistry) Unregister(id tahti.SourceID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.sources[id]; !ok {
		return
	}
	for track, bound := range r.bindings {
		if bound == id {
			delete(r.bindings, track)
			r.router.ClearRoute(track)
		}
	}
	delete(r.sources, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if backend, ok := r.backends[id]; ok {
		delete(r.backends, id)
		backend.Close()
	}
}

// Bind binds the track to the source, replacing any previous binding. The
// route swap goes through the router, which silences whatever the track had
// sounding on the old binding. Bank and port sources bound to this track for
// the first time get the default program and channel of the track index;
// internal sources always play with their explicitly chosen program.
func (r *SourceRegistry) Bind(track int, id tahti.SourceID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	source, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("no source registered with id %q", id)
	}
	if _, err := r.backend(source); err != nil {
		return fmt.Errorf("binding track %d to %s: %w", track, source.Name, err)
	}
	r.bindings[track] = id
	r.refresh(track)
	return nil
}

// Unbind removes the binding of the track, silencing its sounding notes.
// The track plays nothing until bound again.
func (r *SourceRegistry) Unbind(track int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.bindings, track)
	r.router.ClearRoute(track)
}

// Binding returns the source the track is bound to, if any.
func (r *SourceRegistry) Binding(track int) (tahti.Source, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	id, ok := r.bindings[track]
	if !ok {
		return tahti.Source{}, false
	}
	source, ok := r.sources[id]
	return source, ok
}

// Sources returns the registered sources in registration order.
func (r *SourceRegistry) Sources() []tahti.Source {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	ret := make([]tahti.Source, 0, len(r.order))
	for _, id := range r.order {
		ret = append(ret, r.sources[id])
	}
	return ret
}

// Source returns the registered source with the given ID.
func (r *SourceRegistry) Source(id tahti.SourceID) (tahti.Source, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	source, ok := r.sources[id]
	return source, ok
}

// RemoveTrack shifts the bindings of tracks above the removed index down by
// one, carrying their remembered assignments along, so tracks keep their
// sound when an earlier track is deleted.
func (r *SourceRegistry) RemoveTrack(track int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.router.ClearRoute(track)
	moved := make(map[int]tahti.SourceID)
	maxTrack := -1
	for t, id := range r.bindings {
		maxTrack = max(maxTrack, t)
		if t > track {
			moved[t-1] = id
		}
	}
	for t := track; t <= maxTrack; t++ {
		if id, ok := moved[t]; ok {
			if asg, ok := r.assigned[assignKey{track: t + 1, source: id}]; ok {
				r.assigned[assignKey{track: t, source: id}] = asg
			}
			r.bindings[t] = id
			r.refresh(t)
		} else {
			delete(r.bindings, t)
			r.router.ClearRoute(t)
		}
	}
}

// Close silences everything and closes all resolved backends.
func (r *SourceRegistry) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.router.SilenceAll()
	for id, backend := range r.backends {
		delete(r.backends, id)
		backend.Close()
	}
}

// refresh recomputes the route of the track from its current binding and
// pushes it to the router. Called with the registry mutex held.
func (r *SourceRegistry) refresh(track int) {
	id, ok := r.bindings[track]
	if !ok {
		r.router.ClearRoute(track)
		return
	}
	source := r.sources[id]
	backend, err := r.backend(source)
	if err != nil {
		r.router.ClearRoute(track)
		TrySend(r.broker.ToModel, MsgToModel{Data: Alert{
			Name:     "SourceRegistry",
			Priority: Error,
			Message:  fmt.Sprintf("Cannot route track %d: %v", track, err),
			Duration: defaultAlertDuration,
		}})
		return
	}
	asg := r.assignmentFor(track, source)
	r.router.SetRoute(track, Route{Backend: backend, Channel: asg.channel, Program: asg.program})
}

// assignmentFor returns the program and channel the track plays the source
// with. Internal sources always derive from the source itself; the explicit
// program of an internal source is never overwritten by track defaults.
func (r *SourceRegistry) assignmentFor(track int, source tahti.Source) assignment {
	if source.Kind == tahti.SourceInternal {
		return assignment{program: source.Program, channel: source.Channel}
	}
	key := assignKey{track: track, source: source.ID()}
	if asg, ok := r.assigned[key]; ok {
		return asg
	}
	asg := assignment{program: -1, channel: track % 16}
	if source.Kind == tahti.SourceBank {
		asg.program = tahti.DefaultTrackPrograms[track%16]
	}
	r.assigned[key] = asg
	return asg
}

// backend returns the backend of the source, resolving and caching it on
// first use. Called with the registry mutex held.
func (r *SourceRegistry) backend(source tahti.Source) (tahti.Backend, error) {
	id := source.ID()
	if backend, ok := r.backends[id]; ok {
		return backend, nil
	}
	provider, ok := r.providers[source.Kind]
	if !ok {
		return nil, fmt.Errorf("no backend provider for %s sources", source.Kind)
	}
	backend, err := provider.Backend(source)
	if err != nil {
		return nil, err
	}
	r.backends[id] = backend
	return backend, nil
}
