package sequencer_test

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/sequencer"
)

// recordBackend records every message sent to it as a string, and can be
// made to fail per operation through the fail map.
type recordBackend struct {
	calls  []string
	fail   map[string]error
	closed bool
}

func (b *recordBackend) op(name string, args ...int) error {
	if err := b.fail[name]; err != nil {
		return err
	}
	call := name
	for _, a := range args {
		call += fmt.Sprintf(" %d", a)
	}
	b.calls = append(b.calls, call)
	return nil
}

func (b *recordBackend) NoteOn(channel, pitch, velocity int) error {
	return b.op("on", channel, pitch, velocity)
}

func (b *recordBackend) NoteOff(channel, pitch int) error {
	return b.op("off", channel, pitch)
}

func (b *recordBackend) ProgramChange(channel, program int) error {
	return b.op("prog", channel, program)
}

func (b *recordBackend) ControlChange(channel, controller, value int) error {
	return b.op("cc", channel, controller, value)
}

func (b *recordBackend) Close() error {
	b.closed = true
	return nil
}

func expectCalls(t *testing.T, backend *recordBackend, expected ...string) {
	t.Helper()
	if !slices.Equal(backend.calls, expected) {
		t.Errorf("backend calls = %v, expected %v", backend.calls, expected)
	}
}

func receiveAlert(t *testing.T, broker *sequencer.Broker) sequencer.Alert {
	t.Helper()
	for {
		select {
		case msg := <-broker.ToModel:
			if alert, ok := msg.Data.(sequencer.Alert); ok {
				return alert
			}
		default:
			t.Fatalf("no alert waiting in ToModel")
			return sequencer.Alert{}
		}
	}
}

func TestRouterUnboundTrackDropsEvents(t *testing.T) {
	router := sequencer.NewRouter(sequencer.NewBroker())
	if err := router.PlayNote(0, 60, 100); err != nil {
		t.Errorf("PlayNote on unbound track failed: %v", err)
	}
	if err := router.StopNote(0, 60); err != nil {
		t.Errorf("StopNote on unbound track failed: %v", err)
	}
	if err := router.SendControl(0, 64, 127); err != nil {
		t.Errorf("SendControl on unbound track failed: %v", err)
	}
	if got := router.NumSounding(); got != 0 {
		t.Errorf("NumSounding() = %d, expected 0", got)
	}
}

func TestRouterProgramChangeOnDemand(t *testing.T) {
	router := sequencer.NewRouter(sequencer.NewBroker())
	backend := &recordBackend{}
	router.SetRoute(0, sequencer.Route{Backend: backend, Channel: 3, Program: 48})
	router.PlayNote(0, 60, 100)
	router.PlayNote(0, 64, 90)
	expectCalls(t, backend, "prog 3 48", "on 3 60 100", "on 3 64 90")
	if got := router.NumSounding(); got != 2 {
		t.Errorf("NumSounding() = %d, expected 2", got)
	}
}

func TestRouterNegativeProgramLeavesChannelAlone(t *testing.T) {
	router := sequencer.NewRouter(sequencer.NewBroker())
	backend := &recordBackend{}
	router.SetRoute(0, sequencer.Route{Backend: backend, Channel: 0, Program: -1})
	router.PlayNote(0, 60, 100)
	expectCalls(t, backend, "on 0 60 100")
}

func TestRouterProgramNotCachedOnFailure(t *testing.T) {
	broker := sequencer.NewBroker()
	router := sequencer.NewRouter(broker)
	backend := &recordBackend{fail: map[string]error{"prog": errors.New("port gone")}}
	router.SetRoute(0, sequencer.Route{Backend: backend, Channel: 0, Program: 48})
	if err := router.PlayNote(0, 60, 100); err != nil {
		t.Errorf("PlayNote failed even though only the program change failed: %v", err)
	}
	expectCalls(t, backend, "on 0 60 100")
	if alert := receiveAlert(t, broker); alert.Priority != sequencer.Error {
		t.Errorf("alert priority = %v, expected Error", alert.Priority)
	}
	delete(backend.fail, "prog")
	router.PlayNote(0, 62, 100)
	expectCalls(t, backend, "on 0 60 100", "prog 0 48", "on 0 62 100")
}

func TestRouterFailedNoteOnNotSounding(t *testing.T) {
	broker := sequencer.NewBroker()
	router := sequencer.NewRouter(broker)
	backend := &recordBackend{fail: map[string]error{"on": errors.New("port gone")}}
	router.SetRoute(0, sequencer.Route{Backend: backend, Channel: 0, Program: -1})
	err := router.PlayNote(0, 60, 100)
	var routingError *sequencer.RoutingError
	if !errors.As(err, &routingError) {
		t.Fatalf("PlayNote = %v, expected a RoutingError", err)
	}
	if got := router.NumSounding(); got != 0 {
		t.Errorf("NumSounding() = %d, expected 0 after a failed note on", got)
	}
	router.SilenceAll()
	expectCalls(t, backend)
}

func TestRouterFailedNoteOffStillUnregisters(t *testing.T) {
	broker := sequencer.NewBroker()
	router := sequencer.NewRouter(broker)
	backend := &recordBackend{}
	router.SetRoute(0, sequencer.Route{Backend: backend, Channel: 0, Program: -1})
	router.PlayNote(0, 60, 100)
	backend.fail = map[string]error{"off": errors.New("port gone")}
	if err := router.StopNote(0, 60); err == nil {
		t.Errorf("StopNote did not report the failed note off")
	}
	if got := router.NumSounding(); got != 0 {
		t.Errorf("NumSounding() = %d, expected 0 even after a failed note off", got)
	}
	if err := router.StopNote(0, 60); err != nil {
		t.Errorf("second StopNote failed: %v", err)
	}
}

func TestRouterSetRouteStopsOldNotes(t *testing.T) {
	router := sequencer.NewRouter(sequencer.NewBroker())
	oldBackend := &recordBackend{}
	newBackend := &recordBackend{}
	router.SetRoute(0, sequencer.Route{Backend: oldBackend, Channel: 0, Program: -1})
	router.PlayNote(0, 60, 100)
	router.SetRoute(0, sequencer.Route{Backend: newBackend, Channel: 5, Program: -1})
	expectCalls(t, oldBackend, "on 0 60 100", "off 0 60")
	expectCalls(t, newBackend)
	router.PlayNote(0, 62, 100)
	expectCalls(t, newBackend, "on 5 62 100")
}

func TestRouterStopNoteUsesStartingRoute(t *testing.T) {
	router := sequencer.NewRouter(sequencer.NewBroker())
	backend := &recordBackend{}
	router.SetRoute(0, sequencer.Route{Backend: backend, Channel: 2, Program: -1})
	router.PlayNote(0, 60, 100)
	router.PlayNote(1, 60, 100) // unbound, dropped
	router.StopNote(0, 60)
	expectCalls(t, backend, "on 2 60 100", "off 2 60")
}

func TestRouterClearRoute(t *testing.T) {
	router := sequencer.NewRouter(sequencer.NewBroker())
	backend := &recordBackend{}
	router.SetRoute(0, sequencer.Route{Backend: backend, Channel: 0, Program: -1})
	router.PlayNote(0, 60, 100)
	router.ClearRoute(0)
	expectCalls(t, backend, "on 0 60 100", "off 0 60")
	router.PlayNote(0, 62, 100)
	expectCalls(t, backend, "on 0 60 100", "off 0 60")
}

func TestRouterSilenceAllIdempotent(t *testing.T) {
	router := sequencer.NewRouter(sequencer.NewBroker())
	backend := &recordBackend{}
	router.SetRoute(0, sequencer.Route{Backend: backend, Channel: 0, Program: -1})
	router.SetRoute(1, sequencer.Route{Backend: backend, Channel: 1, Program: -1})
	router.PlayNote(0, 60, 100)
	router.PlayNote(1, 72, 100)
	router.SilenceAll()
	if got := router.NumSounding(); got != 0 {
		t.Errorf("NumSounding() = %d, expected 0 after SilenceAll", got)
	}
	calls := len(backend.calls)
	router.SilenceAll()
	if len(backend.calls) != calls {
		t.Errorf("second SilenceAll sent %d more messages", len(backend.calls)-calls)
	}
}

func TestRouterSounding(t *testing.T) {
	router := sequencer.NewRouter(sequencer.NewBroker())
	backend := &recordBackend{}
	router.SetRoute(0, sequencer.Route{Backend: backend, Channel: 0, Program: -1})
	router.SetRoute(1, sequencer.Route{Backend: backend, Channel: 1, Program: -1})
	router.PlayNote(0, 60, 100)
	router.PlayNote(0, 64, 100)
	router.PlayNote(1, 72, 100)
	got := router.Sounding(0)
	slices.Sort(got)
	if !slices.Equal(got, []int{60, 64}) {
		t.Errorf("Sounding(0) = %v, expected [60 64]", got)
	}
	if got := router.NumSounding(); got != 3 {
		t.Errorf("NumSounding() = %d, expected 3", got)
	}
}

func TestRouterSendControl(t *testing.T) {
	broker := sequencer.NewBroker()
	router := sequencer.NewRouter(broker)
	backend := &recordBackend{}
	router.SetRoute(0, sequencer.Route{Backend: backend, Channel: 7, Program: -1})
	if err := router.SendControl(0, 64, 127); err != nil {
		t.Fatalf("SendControl failed: %v", err)
	}
	expectCalls(t, backend, "cc 7 64 127")
	backend.fail = map[string]error{"cc": errors.New("port gone")}
	var routingError *sequencer.RoutingError
	if err := router.SendControl(0, 64, 0); !errors.As(err, &routingError) {
		t.Errorf("SendControl = %v, expected a RoutingError", err)
	}
}

var _ tahti.Backend = (*recordBackend)(nil)
