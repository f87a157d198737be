// Package squeue implements the bounded priority queue C6 dispatches from:
// a container/heap ordered by (priority desc, insertion-sequence asc),
// TTL-based expiry, and reject-by-default overflow.
package squeue

import (
	"container/heap"
	"sync"

	"github.com/orbitlink/satlink/ids"
	"github.com/orbitlink/satlink/spacecmd"
	"github.com/orbitlink/satlink/xerr"
)

// Admission thresholds (§4.6): Low is rejected once the queue is at least
// this full; Medium at the higher threshold; High and above are always
// admitted until capacity. The degraded* thresholds tighten all three
// tiers when the fault manager (C8) reports poor system health (§5 "C8
// influences C5's admission"), reserving more headroom for higher-priority
// traffic while the system is unwell.
const (
	lowAdmissionThreshold    = 0.90
	mediumAdmissionThreshold = 0.95

	degradedLowAdmissionThreshold    = 0.50
	degradedMediumAdmissionThreshold = 0.80
	degradedHighAdmissionThreshold   = 0.95
)

// entry is the heap element: a Message plus its insertion sequence, used
// to break priority ties FIFO.
type entry struct {
	message  *spacecmd.Message
	sequence uint64
}

// priorityHeap implements container/heap.Interface. Less reports entry i
// as "less" (popped earlier) when i has higher priority, or equal priority
// and a smaller sequence — i.e. Pop always yields the highest priority,
// lowest-sequence entry, matching §3's total order.
type priorityHeap []*entry

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	pi, pj := h[i].message.Priority, h[j].message.Priority
	if pi != pj {
		return pi > pj
	}
	return h[i].sequence < h[j].sequence
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x interface{}) {
	*h = append(*h, x.(*entry))
}

func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Stats reports counts per priority, total, capacity and utilization, per
// the queue's stats() contract (§4.5).
type Stats struct {
	Total            int
	Capacity         int
	LowPriority      int
	MediumPriority   int
	HighPriority     int
	CriticalPriority int
	EmergencyPriority int
}

// UtilizationPercent returns the fraction of capacity in use, as a percentage.
func (s Stats) UtilizationPercent() float32 {
	if s.Capacity == 0 {
		return 0
	}
	return float32(s.Total) / float32(s.Capacity) * 100
}

// IsNearCapacity reports whether utilization meets or exceeds thresholdPercent.
func (s Stats) IsNearCapacity(thresholdPercent float32) bool {
	return s.UtilizationPercent() >= thresholdPercent
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithEvictLowestOnFull opts the queue into evicting the lowest-priority,
// highest-sequence entry to make room on a full push, instead of the
// default reject-by-default overflow policy (§9 Open Question). Never the
// implicit default: a caller must opt in explicitly.
func WithEvictLowestOnFull(enabled bool) Option {
	return func(q *Queue) { q.evictLowestOnFull = enabled }
}

// Queue is the bounded priority queue described by §4.5.
type Queue struct {
	mu                sync.Mutex
	heap              priorityHeap
	capacity          int
	sequenceCounter   uint64
	evictLowestOnFull bool
	degradedAdmission bool
}

// SetDegradedAdmission switches the admission rule between its normal
// thresholds and the tighter degraded set, driven by the fault manager's
// health status rather than toggled directly by callers in steady state.
func (q *Queue) SetDegradedAdmission(enabled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.degradedAdmission = enabled
}

// New builds an empty Queue with the given bounded capacity.
func New(capacity int, opts ...Option) *Queue {
	q := &Queue{capacity: capacity}
	for _, opt := range opts {
		opt(q)
	}
	heap.Init(&q.heap)
	return q
}

// Push assigns the next insertion sequence and inserts msg, honoring the
// admission rule (§4.6): Low is rejected at ≥90% full, Medium at ≥95%,
// High and above always admitted until capacity. Returns a
// ResourceExhausted error on rejection; the caller may retry with
// back-pressure since that kind is recoverable.
func (q *Queue) Push(msg *spacecmd.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.admit(msg.Priority); err != nil {
		return err
	}

	if len(q.heap) >= q.capacity {
		if !q.evictLowestOnFull {
			return xerr.NewResourceExhausted("queue_capacity", uint64(len(q.heap)), uint64(q.capacity))
		}
		q.evictLowest()
	}

	e := &entry{message: msg, sequence: q.sequenceCounter}
	q.sequenceCounter++
	heap.Push(&q.heap, e)
	return nil
}

// admit applies the priority-tiered admission rule against current fill,
// using the degraded threshold set in place of the normal one when C8 has
// reported poor system health.
func (q *Queue) admit(priority ids.MessagePriority) error {
	if q.capacity == 0 {
		return nil
	}
	lowThreshold, mediumThreshold, highThreshold := lowAdmissionThreshold, mediumAdmissionThreshold, 1.0
	if q.degradedAdmission {
		lowThreshold, mediumThreshold, highThreshold = degradedLowAdmissionThreshold, degradedMediumAdmissionThreshold, degradedHighAdmissionThreshold
	}

	fill := float64(len(q.heap)) / float64(q.capacity)
	switch priority {
	case ids.PriorityLow:
		if fill >= lowThreshold {
			return xerr.NewResourceExhausted("queue_admission_low", uint64(len(q.heap)), uint64(q.capacity))
		}
	case ids.PriorityMedium:
		if fill >= mediumThreshold {
			return xerr.NewResourceExhausted("queue_admission_medium", uint64(len(q.heap)), uint64(q.capacity))
		}
	case ids.PriorityHigh:
		if fill >= highThreshold {
			return xerr.NewResourceExhausted("queue_admission_high", uint64(len(q.heap)), uint64(q.capacity))
		}
	}
	return nil
}

// evictLowest removes the current worst entry (lowest priority, highest
// sequence) to make room; only called when WithEvictLowestOnFull is set.
func (q *Queue) evictLowest() {
	if len(q.heap) == 0 {
		return
	}
	worst := 0
	for i := 1; i < len(q.heap); i++ {
		if q.heap.Less(worst, i) {
			worst = i
		}
	}
	heap.Remove(&q.heap, worst)
}

// Pop removes and returns the highest-priority, lowest-sequence message.
// Returns nil if the queue is empty.
func (q *Queue) Pop() *spacecmd.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	e := heap.Pop(&q.heap).(*entry)
	return e.message
}

// Peek returns the highest-priority message without removing it, or nil
// if the queue is empty.
func (q *Queue) Peek() *spacecmd.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0].message
}

// Len returns the current number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// IsFull reports whether the queue is at capacity.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap) >= q.capacity
}

// RemoveExpired drops every message with a positive TTL whose age in
// seconds has reached or exceeded that TTL, preserving the relative
// ordering of survivors.
func (q *Queue) RemoveExpired(nowSeconds int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	survivors := q.heap[:0]
	for _, e := range q.heap {
		age := nowSeconds - e.message.TimestampNs.UnixSeconds()
		if e.message.TTLSeconds > 0 && age >= int64(e.message.TTLSeconds) {
			continue
		}
		survivors = append(survivors, e)
	}
	q.heap = survivors
	heap.Init(&q.heap)
}

// Stats reports the queue's current counts per priority, total, capacity
// and derived utilization.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Total: len(q.heap), Capacity: q.capacity}
	for _, e := range q.heap {
		switch e.message.Priority {
		case ids.PriorityLow:
			s.LowPriority++
		case ids.PriorityMedium:
			s.MediumPriority++
		case ids.PriorityHigh:
			s.HighPriority++
		case ids.PriorityCritical:
			s.CriticalPriority++
		case ids.PriorityEmergency:
			s.EmergencyPriority++
		}
	}
	return s
}
