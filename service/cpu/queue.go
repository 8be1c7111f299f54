package cpu

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrQueueFull is returned when a run queue already holds its capacity.
var ErrQueueFull = errors.New("cpu: run queue full")

// RunQueue is the ordered list of task ids owned by one CPU. The length is
// also published through an atomic so other CPUs can read it without taking
// the lock.
type RunQueue struct {
	mux      sync.Mutex
	ids      []int
	index    int
	count    atomic.Int32
	capacity int
}

// NewRunQueue creates a queue bounded by capacity.
func NewRunQueue(capacity int) *RunQueue {
	return &RunQueue{ids: make([]int, 0, capacity), index: -1, capacity: capacity}
}

// Push appends id.
func (q *RunQueue) Push(id int) error {
	q.mux.Lock()
	defer q.mux.Unlock()
	if len(q.ids) >= q.capacity {
		return fmt.Errorf("%w: %d entries", ErrQueueFull, q.capacity)
	}
	for _, candidate := range q.ids {
		if candidate == id {
			return fmt.Errorf("cpu: task %d already queued", id)
		}
	}
	q.ids = append(q.ids, id)
	q.count.Store(int32(len(q.ids)))
	return nil
}

// Remove deletes id by swapping the last entry into its place. The rotation
// continues from the entry that took the removed slot.
func (q *RunQueue) Remove(id int) bool {
	q.mux.Lock()
	defer q.mux.Unlock()
	pos := -1
	for i, candidate := range q.ids {
		if candidate == id {
			pos = i
			break
		}
	}
	if pos == -1 {
		return false
	}
	last := len(q.ids) - 1
	q.ids[pos] = q.ids[last]
	q.ids = q.ids[:last]
	switch q.index {
	case pos:
		q.index = pos - 1
	case last:
		q.index = pos
	}
	q.count.Store(int32(len(q.ids)))
	return true
}

// Pick walks the queue round robin, starting after the last picked entry and
// ending with it, and returns the first id accept agrees to run.
func (q *RunQueue) Pick(accept func(id int) bool) (int, bool) {
	q.mux.Lock()
	defer q.mux.Unlock()
	n := len(q.ids)
	for i := 1; i <= n; i++ {
		pos := (q.index + i) % n
		if pos < 0 {
			pos += n
		}
		if accept(q.ids[pos]) {
			q.index = pos
			return q.ids[pos], true
		}
	}
	return 0, false
}

// Select makes id the last picked entry.
func (q *RunQueue) Select(id int) bool {
	q.mux.Lock()
	defer q.mux.Unlock()
	for i, candidate := range q.ids {
		if candidate == id {
			q.index = i
			return true
		}
	}
	return false
}

// Each calls fn for every queued id while holding the queue lock.
func (q *RunQueue) Each(fn func(id int)) {
	q.mux.Lock()
	defer q.mux.Unlock()
	for _, id := range q.ids {
		fn(id)
	}
}

// IDs returns a copy of the queue content.
func (q *RunQueue) IDs() []int {
	q.mux.Lock()
	defer q.mux.Unlock()
	return append([]int(nil), q.ids...)
}

// Contains reports whether id is queued.
func (q *RunQueue) Contains(id int) bool {
	q.mux.Lock()
	defer q.mux.Unlock()
	for _, candidate := range q.ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// Len returns the published length without locking.
func (q *RunQueue) Len() int {
	return int(q.count.Load())
}
