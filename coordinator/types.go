package coordinator

import (
	"context"

	"board-sync/domain"
)

// Store persists a completed move to the remote system of record.
type Store interface {
	// MoveTask asks the server to place the task into category at the given
	// 0-based order. Any error means the move was not applied.
	MoveTask(ctx context.Context, id, category string, order int) error
}

// Notifier surfaces gesture outcomes to the user. Implementations must not
// block; they run on the reconcile goroutine.
type Notifier interface {
	MoveSaved(task domain.Task, fromLane, toLane string)
	MoveFailed(task domain.Task, err error)
	MoveCancelled(task domain.Task)
}

// DragStart marks the beginning of a gesture. The snapshot is taken from the
// board as it stands at this moment, in-flight reconciliations included.
type DragStart struct{}

// DragOver reports a candidate placement while the pointer moves. Target
// resolves per domain.DropTarget: a reference item, or a lane for appends.
type DragOver struct {
	ItemID string
	Target domain.DropTarget
}

// DragEnd closes a gesture. Cancelled gestures roll back locally and never
// reach the network.
type DragEnd struct {
	ItemID    string
	Cancelled bool
}

// Phase is the coordinator's externally visible state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDragging
	PhaseReconciling
)

func (p Phase) String() string {
	switch p {
	case PhaseDragging:
		return "dragging"
	case PhaseReconciling:
		return "reconciling"
	default:
		return "idle"
	}
}
