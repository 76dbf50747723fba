package blankquiz

import (
	"container/list"
	"sync"
	"time"
)

// QuestionPool is the FIFO of drafted and revised questions waiting for
// the checker. A question ID is queued at most once.
type QuestionPool struct {
	mu    sync.RWMutex
	order *list.List               // of *Question
	byID  map[string]*list.Element // index into order
}

// NewQuestionPool creates an empty pool
func NewQuestionPool() *QuestionPool {
	return &QuestionPool{order: list.New(), byID: make(map[string]*list.Element)}
}

// Add queues a question at the back. A question whose ID is already queued
// (a revision of a waiting draft) replaces it without losing its place.
func (qp *QuestionPool) Add(q *Question) {
	if q.Status == "" {
		q.Status = StatusPending
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}

	qp.mu.Lock()
	defer qp.mu.Unlock()
	if el, ok := qp.byID[q.ID]; ok {
		el.Value = q
		return
	}
	qp.byID[q.ID] = qp.order.PushBack(q)
}

// Get dequeues the oldest question, or returns nil when the pool is empty
func (qp *QuestionPool) Get() *Question {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	front := qp.order.Front()
	if front == nil {
		return nil
	}
	return qp.unlink(front)
}

// Remove drops a queued question by ID; unknown IDs are ignored
func (qp *QuestionPool) Remove(id string) {
	qp.mu.Lock()
	defer qp.mu.Unlock()
	if el, ok := qp.byID[id]; ok {
		qp.unlink(el)
	}
}

func (qp *QuestionPool) unlink(el *list.Element) *Question {
	q := qp.order.Remove(el).(*Question)
	delete(qp.byID, q.ID)
	return q
}

// Size returns the number of queued questions
func (qp *QuestionPool) Size() int {
	qp.mu.RLock()
	defer qp.mu.RUnlock()
	return qp.order.Len()
}

// IsEmpty reports whether nothing is queued
func (qp *QuestionPool) IsEmpty() bool {
	return qp.Size() == 0
}

// GetAll returns a snapshot of the queue, oldest first
func (qp *QuestionPool) GetAll() []*Question {
	qp.mu.RLock()
	defer qp.mu.RUnlock()
	out := make([]*Question, 0, qp.order.Len())
	for el := qp.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Question))
	}
	return out
}
