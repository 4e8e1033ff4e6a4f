package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

const defaultReconcileTimeout = 30 * time.Second

// ErrItemVanished is reported when the dragged task cannot be found in any
// lane at drag end. It signals corrupted view state, never a user mistake.
var ErrItemVanished = errors.New("dragged task missing from every lane")

// Coordinator owns the client board view and turns drag gestures into
// optimistic local mutations plus at most one reconciliation call per
// completed gesture. Gesture events must arrive from a single goroutine;
// reconciliation results are applied under the coordinator's lock.
type Coordinator struct {
	mu        sync.Mutex
	board     *domain.Board
	snapshot  *domain.Board
	gestureID string
	overCount int
	dragging  bool

	pending  atomic.Int64
	inflight sync.WaitGroup

	store    Store
	notifier Notifier
	onChange func(itemID string)
	logger   *log.Logger

	// Timeout bounds a single reconciliation call. Zero means the default.
	Timeout time.Duration

	stats stats
}

type stats struct {
	sameLaneMoves    atomic.Int64
	crossLaneMoves   atomic.Int64
	noopMoves        atomic.Int64
	rollbacks        atomic.Int64
	cancellations    atomic.Int64
	derivationErrors atomic.Int64
}

// Stats is a point-in-time snapshot of gesture counters. Same-lane and
// cross-lane moves are counted separately for telemetry.
type Stats struct {
	SameLaneMoves    int64
	CrossLaneMoves   int64
	NoopMoves        int64
	Rollbacks        int64
	Cancellations    int64
	DerivationErrors int64
}

// New creates a coordinator owning the given board. notifier and onChange
// may be nil; logger defaults to the standard logrus logger.
func New(board *domain.Board, store Store, notifier Notifier, onChange func(itemID string), logger *log.Logger) *Coordinator {
	if board == nil {
		panic("coordinator.New: board is nil")
	}
	if store == nil {
		panic("coordinator.New: store is nil")
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if onChange == nil {
		onChange = func(string) {}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{
		board:    board,
		store:    store,
		notifier: notifier,
		onChange: onChange,
		logger:   logger,
	}
}

// Phase reports the coordinator's current state. Reconciling is visible only
// while no new gesture is in progress; a drag may begin while an earlier
// reconciliation is still in flight.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	dragging := c.dragging
	c.mu.Unlock()
	if dragging {
		return PhaseDragging
	}
	if c.pending.Load() > 0 {
		return PhaseReconciling
	}
	return PhaseIdle
}

// View returns a copy of the current board for rendering. The copy is
// detached; renderers never observe partial mutations.
func (c *Coordinator) View() *domain.Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Clone()
}

// Stats returns the current gesture counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		SameLaneMoves:    c.stats.sameLaneMoves.Load(),
		CrossLaneMoves:   c.stats.crossLaneMoves.Load(),
		NoopMoves:        c.stats.noopMoves.Load(),
		Rollbacks:        c.stats.rollbacks.Load(),
		Cancellations:    c.stats.cancellations.Load(),
		DerivationErrors: c.stats.derivationErrors.Load(),
	}
}

// DragStart opens a gesture and captures the rollback snapshot from the
// board as it currently stands, whether or not an earlier reconciliation is
// still in flight. Starting over an unfinished gesture supersedes it.
func (c *Coordinator) DragStart(DragStart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dragging {
		c.logger.WithField("gesture_id", c.gestureID).Warn("drag started over unfinished gesture, superseding")
	}
	c.dragging = true
	c.gestureID = uuid.NewString()
	c.overCount = 0
	c.snapshot = c.board.Clone()
	c.logger.WithField("gesture_id", c.gestureID).Debug("drag started")
}

// DragOver applies one candidate placement to the board. It is synchronous
// and touches nothing but local state. Placements that do not resolve (stale
// item or target IDs from the gesture source) are logged and skipped so the
// gesture can continue.
func (c *Coordinator) DragOver(ev DragOver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dragging {
		c.logger.WithField("item", ev.ItemID).Warn("drag-over without active gesture, ignoring")
		return
	}
	c.overCount++
	if err := c.board.Move(ev.ItemID, ev.Target); err != nil {
		c.logger.WithFields(log.Fields{
			"gesture_id": c.gestureID,
			"item":       ev.ItemID,
			"error":      err.Error(),
		}).Warn("drag-over placement skipped")
	}
}

// DragEnd closes the gesture. Cancelled gestures restore the snapshot and
// never touch the network. Completed gestures derive the final lane and
// order from the board itself, suppress no-ops, and dispatch exactly one
// reconciliation call on its own goroutine. DragEnd never blocks on the
// network.
func (c *Coordinator) DragEnd(ev DragEnd) {
	c.mu.Lock()
	if !c.dragging {
		c.mu.Unlock()
		c.logger.WithField("item", ev.ItemID).Warn("drag-end without active gesture, ignoring")
		return
	}
	snapshot := c.snapshot
	gestureID := c.gestureID
	overCount := c.overCount
	c.dragging = false
	c.snapshot = nil

	task, _ := c.board.Task(ev.ItemID)
	if task.ID == "" {
		task.ID = ev.ItemID
	}

	if ev.Cancelled {
		c.board.Restore(snapshot)
		c.mu.Unlock()
		c.stats.cancellations.Add(1)
		c.logger.WithFields(log.Fields{
			"gesture_id":  gestureID,
			"item":        ev.ItemID,
			"drag_events": overCount,
		}).Debug("gesture cancelled, snapshot restored")
		c.notifier.MoveCancelled(task)
		return
	}

	lane, order, ok := c.board.Locate(ev.ItemID)
	if !ok {
		// Corrupted view state: restore, report, and force a resync rather
		// than guessing a payload.
		c.board.Restore(snapshot)
		c.mu.Unlock()
		c.stats.derivationErrors.Add(1)
		err := fmt.Errorf("gesture %s item %s: %w", gestureID, ev.ItemID, ErrItemVanished)
		c.logger.WithFields(log.Fields{
			"gesture_id": gestureID,
			"item":       ev.ItemID,
		}).Error(err.Error())
		c.notifier.MoveFailed(task, err)
		c.onChange(ev.ItemID)
		return
	}

	fromLane, fromOrder, wasKnown := snapshot.Locate(ev.ItemID)
	if wasKnown && fromLane == lane && fromOrder == order {
		c.mu.Unlock()
		c.stats.noopMoves.Add(1)
		c.logger.WithFields(log.Fields{
			"gesture_id": gestureID,
			"item":       ev.ItemID,
			"lane":       lane,
		}).Debug("gesture ended where it began, skipping reconciliation")
		return
	}

	if fromLane == lane {
		c.stats.sameLaneMoves.Add(1)
	} else {
		c.stats.crossLaneMoves.Add(1)
	}

	c.pending.Add(1)
	c.inflight.Add(1)
	c.mu.Unlock()

	go c.reconcile(gestureID, task, fromLane, lane, order, overCount, snapshot)
}

// Wait blocks until every dispatched reconciliation has finished. Intended
// for shutdown and tests.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

func (c *Coordinator) reconcile(gestureID string, task domain.Task, fromLane, toLane string, order, overCount int, snapshot *domain.Board) {
	defer c.inflight.Done()
	defer c.pending.Add(-1)

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultReconcileTimeout
	}
	m, ctx := newMoveMetrics(context.Background(), c.logger, gestureID, task.ID, fromLane, toLane, order, overCount)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := c.store.MoveTask(ctx, task.ID, toLane, order)
	if err != nil {
		// Full rollback to this gesture's own snapshot. A partial patch-up
		// could diverge from the server permanently.
		c.mu.Lock()
		c.board.Restore(snapshot)
		c.mu.Unlock()
		c.stats.rollbacks.Add(1)
		m.Log(outcomeRolledBack, err)
		c.notifier.MoveFailed(task, err)
		c.onChange(task.ID)
		return
	}

	// The optimistic state is already the confirmed state; only dependent
	// views need to refresh server-computed fields.
	m.Log(outcomeSaved, nil)
	c.notifier.MoveSaved(task, fromLane, toLane)
	c.onChange(task.ID)
}

type noopNotifier struct{}

func (noopNotifier) MoveSaved(domain.Task, string, string) {}
func (noopNotifier) MoveFailed(domain.Task, error)         {}
func (noopNotifier) MoveCancelled(domain.Task)             {}
