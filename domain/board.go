package domain

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownTask is returned when a move names a task the board does not hold.
	ErrUnknownTask = errors.New("task not on board")
	// ErrUnknownTarget is returned when a drop target resolves to nothing.
	ErrUnknownTarget = errors.New("drop target not on board")
)

// DropTarget identifies where a dragged task should land. When Item is set
// the drop resolves to that item's current lane and the task is inserted
// before it, or after it when After is true. Otherwise the task is appended
// to Lane.
type DropTarget struct {
	Lane  string
	Item  string
	After bool
}

// Board is the client-side view of the remote task list: an ordered set of
// lanes, each holding an ordered sequence of task IDs. It is the only state
// mutated during a drag gesture. Orders are 0-based lane indexes.
type Board struct {
	laneOrder []string
	lanes     map[string][]string
	tasks     map[string]Task
}

// NewBoard groups the fetched tasks into lanes by category, ordered by their
// server-assigned order with ID as a deterministic tie break. Lanes appear
// in first-seen order of the sorted input.
func NewBoard(tasks []Task) *Board {
	sorted := make([]Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].ID < sorted[j].ID
	})

	b := &Board{
		lanes: make(map[string][]string),
		tasks: make(map[string]Task, len(sorted)),
	}
	for _, t := range sorted {
		if _, seen := b.lanes[t.Category]; !seen {
			b.laneOrder = append(b.laneOrder, t.Category)
		}
		b.lanes[t.Category] = append(b.lanes[t.Category], t.ID)
		b.tasks[t.ID] = t
	}
	return b
}

// EnsureLane registers an empty lane so it can receive drops even before any
// task lives there.
func (b *Board) EnsureLane(name string) {
	if _, ok := b.lanes[name]; ok {
		return
	}
	b.laneOrder = append(b.laneOrder, name)
	b.lanes[name] = nil
}

// Lanes returns the lane names in display order.
func (b *Board) Lanes() []string {
	out := make([]string, len(b.laneOrder))
	copy(out, b.laneOrder)
	return out
}

// Lane returns the ordered task IDs of one lane.
func (b *Board) Lane(name string) []string {
	ids := b.lanes[name]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Task returns the display attributes of a task by ID.
func (b *Board) Task(id string) (Task, bool) {
	t, ok := b.tasks[id]
	return t, ok
}

// TaskCount returns the number of tasks across all lanes.
func (b *Board) TaskCount() int {
	n := 0
	for _, ids := range b.lanes {
		n += len(ids)
	}
	return n
}

// Locate scans every lane for the task and reports its lane and 0-based
// index within it.
func (b *Board) Locate(id string) (lane string, index int, ok bool) {
	for _, name := range b.laneOrder {
		for i, tid := range b.lanes[name] {
			if tid == id {
				return name, i, true
			}
		}
	}
	return "", 0, false
}

// Clone returns a deep copy of the board. Snapshots taken at drag start are
// clones so later mutations never leak into them.
func (b *Board) Clone() *Board {
	c := &Board{
		laneOrder: append([]string(nil), b.laneOrder...),
		lanes:     make(map[string][]string, len(b.lanes)),
		tasks:     make(map[string]Task, len(b.tasks)),
	}
	for name, ids := range b.lanes {
		c.lanes[name] = append([]string(nil), ids...)
	}
	for id, t := range b.tasks {
		c.tasks[id] = t
	}
	return c
}

// Restore replaces the board contents with those of the snapshot.
func (b *Board) Restore(snapshot *Board) {
	c := snapshot.Clone()
	b.laneOrder = c.laneOrder
	b.lanes = c.lanes
	b.tasks = c.tasks
}

// Equal reports whether two boards hold identical lanes in identical order.
func (b *Board) Equal(other *Board) bool {
	if len(b.laneOrder) != len(other.laneOrder) {
		return false
	}
	for i, name := range b.laneOrder {
		if other.laneOrder[i] != name {
			return false
		}
		a, o := b.lanes[name], other.lanes[name]
		if len(a) != len(o) {
			return false
		}
		for j := range a {
			if a[j] != o[j] {
				return false
			}
		}
	}
	return true
}

// Move removes the task from whichever lane currently holds it and inserts
// it at the target. It is pure with respect to the remote store and leaves
// the board untouched on error. Moving a task relative to itself is a no-op.
func (b *Board) Move(id string, target DropTarget) error {
	srcLane, srcIdx, ok := b.Locate(id)
	if !ok {
		return fmt.Errorf("move %s: %w", id, ErrUnknownTask)
	}
	if target.Item == id {
		return nil
	}

	dstLane, dstIdx, err := b.resolveTarget(target)
	if err != nil {
		return fmt.Errorf("move %s: %w", id, err)
	}

	b.lanes[srcLane] = append(b.lanes[srcLane][:srcIdx], b.lanes[srcLane][srcIdx+1:]...)
	if dstLane == srcLane && dstIdx > srcIdx {
		dstIdx--
	}
	ids := b.lanes[dstLane]
	ids = append(ids, "")
	copy(ids[dstIdx+1:], ids[dstIdx:])
	ids[dstIdx] = id
	b.lanes[dstLane] = ids

	if t, ok := b.tasks[id]; ok {
		t.Category = dstLane
		b.tasks[id] = t
	}
	return nil
}

// resolveTarget maps a drop target to a concrete lane and insertion index in
// the board as it stands before the moved task is removed.
func (b *Board) resolveTarget(target DropTarget) (string, int, error) {
	if target.Item != "" {
		lane, idx, ok := b.Locate(target.Item)
		if !ok {
			return "", 0, fmt.Errorf("item %s: %w", target.Item, ErrUnknownTarget)
		}
		if target.After {
			idx++
		}
		return lane, idx, nil
	}
	ids, ok := b.lanes[target.Lane]
	if !ok {
		return "", 0, fmt.Errorf("lane %s: %w", target.Lane, ErrUnknownTarget)
	}
	return target.Lane, len(ids), nil
}
