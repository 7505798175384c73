package activitypub

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// InboundQueue is the bounded in-memory index over the durable inbound
// activity rows. Items enter through admission and leave through the
// queue worker, in arrival order.
type InboundQueue struct {
	mu         sync.Mutex
	ids        []uuid.UUID
	max        int
	restarting atomic.Bool
	db         *db.DB
}

func NewInboundQueue(database *db.DB, max int) *InboundQueue {
	q := &InboundQueue{max: max, db: database}

	// Rebuild the index from rows that survived a process restart.
	err, ids := database.ReadInboundIdsInOrder()
	if err != nil {
		log.Printf("Queue: could not rebuild index: %v", err)
	}
	q.ids = ids
	if len(ids) > 0 {
		log.Printf("Queue: restored %d pending items", len(ids))
	}
	return q
}

func (q *InboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

func (q *InboundQueue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids) >= q.max
}

// Append persists the item and adds it to the index. The caller has
// already checked capacity; a concurrent overshoot of a slot or two is
// harmless.
func (q *InboundQueue) Append(item *domain.QueuedActivity) error {
	if err := q.db.EnqueueInbound(item); err != nil {
		return err
	}
	q.mu.Lock()
	q.ids = append(q.ids, item.Id)
	q.mu.Unlock()
	return nil
}

// Oldest returns the id at the head of the queue without removing it.
func (q *InboundQueue) Oldest() (uuid.UUID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return uuid.Nil, false
	}
	return q.ids[0], true
}

// Remove deletes the item durably and drops it from the index.
func (q *InboundQueue) Remove(id uuid.UUID) error {
	if err := q.db.DeleteInbound(id); err != nil {
		return err
	}
	q.mu.Lock()
	for i, qid := range q.ids {
		if qid == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	return nil
}

// Drain discards every pending item and flags a queue restart. Used as
// backpressure when the queue hits capacity: shedding the backlog beats
// deadlocking admission.
func (q *InboundQueue) Drain() error {
	q.restarting.Store(true)
	q.mu.Lock()
	q.ids = nil
	q.mu.Unlock()
	return q.db.DrainInbound()
}

// Restarting reports whether a queue restart is in progress. New
// admissions are suppressed until the worker clears the flag.
func (q *InboundQueue) Restarting() bool {
	return q.restarting.Load()
}

func (q *InboundQueue) ClearRestart() {
	q.restarting.Store(false)
}
