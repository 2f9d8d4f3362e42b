package partition

import (
	"context"

	"mympdgo/internal/api"
)

// State is the backend connection state of a worker.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

// String returns the state name used in logs and settings.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	// ErrQueueFull is returned by Enqueue when the queue stayed full for the
	// whole queue timeout.
	ErrQueueFull = api.Errorf(api.ResourceExhausted, "partition queue is full")
	// ErrStopped is returned by Enqueue after the worker was stopped.
	ErrStopped = api.Errorf(api.UnknownPartition, "partition worker stopped")
)

// Notification methods.
const (
	NotifyConnected    = "mpd_connected"
	NotifyDisconnected = "mpd_disconnected"
	NotifyState        = "update_state"
	NotifyCache        = "update_cache"
	NotifyJukebox      = "update_jukebox"
)

// Responder receives the output of a worker. Both calls must not block.
type Responder interface {
	Deliver(resp *api.Response)
	Notify(n api.Notification)
}

// Registrar starts and stops workers for partitions created or removed at
// runtime.
type Registrar interface {
	AddPartition(ctx context.Context, name string) error
	RemovePartition(name string) error
}

// LevelSetter changes the process log level.
type LevelSetter interface {
	SetLevel(level int)
	Level() int
}
