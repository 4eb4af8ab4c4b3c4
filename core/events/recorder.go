package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultRecorderCapacity = 1024

// Entry is a recorded event along with the metadata assigned at emission time.
type Entry struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Recorder keeps a bounded history of emitted events and forwards them to
// live subscribers. Slow subscribers drop events rather than stall emitters.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	seq      uint64
	history  []Entry
	subs     map[uint64]chan Entry
	nextSub  uint64
	nowFn    func() time.Time
}

// NewRecorder constructs a recorder retaining at most capacity entries. A
// non-positive capacity selects the default.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	return &Recorder{
		capacity: capacity,
		history:  make([]Entry, 0, capacity),
		subs:     make(map[uint64]chan Entry),
		nowFn:    time.Now,
	}
}

// Emit implements the Emitter interface. Events without a payload are recorded
// with their type only.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	entry := Entry{Type: evt.EventType(), Attributes: map[string]string{}}
	if payload := PayloadOf(evt); payload != nil {
		clone := payload.Clone()
		entry.Attributes = clone.Attributes
		if clone.Type != "" {
			entry.Type = clone.Type
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	entry.ID = uuid.NewString()
	entry.Sequence = r.seq
	entry.RecordedAt = r.nowFn().UTC()
	if len(r.history) == r.capacity {
		copy(r.history, r.history[1:])
		r.history = r.history[:len(r.history)-1]
	}
	r.history = append(r.history, entry)
	for _, ch := range r.subs {
		select {
		case ch <- cloneEntry(entry):
		default:
		}
	}
}

// Since returns every retained entry with a sequence greater than after,
// oldest first.
func (r *Recorder) Since(after uint64) []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.history))
	for _, entry := range r.history {
		if entry.Sequence > after {
			out = append(out, cloneEntry(entry))
		}
	}
	return out
}

// Recent returns up to limit of the newest entries, oldest first. A
// non-positive limit returns the full retained history.
func (r *Recorder) Recent(limit int) []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	start := 0
	if limit > 0 && limit < len(r.history) {
		start = len(r.history) - limit
	}
	out := make([]Entry, 0, len(r.history)-start)
	for _, entry := range r.history[start:] {
		out = append(out, cloneEntry(entry))
	}
	return out
}

// Subscribe registers a live subscriber. The returned cancel function removes
// the subscription and closes the channel; it is safe to call more than once.
func (r *Recorder) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func cloneEntry(e Entry) Entry {
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	e.Attributes = attrs
	return e
}
