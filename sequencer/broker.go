package sequencer

import (
	"time"
)

type (
	// Broker is the centralized message broker of the sequencer. It is used
	// to communicate between the player goroutine and the model living in
	// the editing surface: the model sends score snapshots and transport
	// messages to the player, and the player reports its status and alerts
	// back. The broker is just many-to-one communication, implemented with
	// one channel for each recipient.
	//
	// For closing the player goroutine, the broker has two channels:
	// ClosePlayer and FinishedPlayer. The ClosePlayer channel has a capacity
	// of 1, so you can always send an empty message (struct{}{}) to it
	// without blocking. If the channel is already full, someone else has
	// already requested its closure and the player is already closing, so
	// dropping the message is fine. FinishedPlayer is used to signal that
	// the player has stopped and sent note offs for everything sounding.
	// Nothing is ever sent to the channel, it is only closed. You can wait
	// until the player is done with "<-FinishedPlayer", which for avoiding
	// deadlocks can be combined with a timeout:
	//    select {
	//      case <-FinishedPlayer:
	//      case <-time.After(3 * time.Second):
	//    }

	Broker struct {
		ToModel  chan MsgToModel
		ToPlayer chan any

		ClosePlayer    chan struct{}
		FinishedPlayer chan struct{}
	}

	// MsgToModel is a message sent to the model. The status of the player is
	// sent on every player cycle, so it is not boxed, to avoid allocations.
	// All the infrequently passed messages (alerts, mostly) are boxed & cast
	// to any; casting pointer types to any is cheap (does not allocate).
	MsgToModel struct {
		HasStatus bool
		Status    PlayerStatus

		Data any
	}

	// PlayerStatus is what the player reports about itself: the transport
	// state, the tick the playhead is at and how many notes are sounding.
	PlayerStatus struct {
		State    PlayState
		Playhead int
		Sounding int
	}

	PlayState int
)

const (
	PlayStateStopped PlayState = iota
	PlayStatePlaying
	PlayStatePaused
)

func NewBroker() *Broker {
	return &Broker{
		ToPlayer:       make(chan any, 1024),
		ToModel:        make(chan MsgToModel, 1024),
		ClosePlayer:    make(chan struct{}, 1),
		FinishedPlayer: make(chan struct{}),
	}
}

func (s PlayState) String() string {
	switch s {
	case PlayStatePlaying:
		return "playing"
	case PlayStatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// TrySend is a helper function to send a value to a channel if it is not full.
// It is guaranteed to be non-blocking. Return true if the value was sent, false
// otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive is a helper function to block until a value is received from a
// channel, or timing out after t. ok will be false if the timeout occurred or
// if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
