// Package broadcast fans upload lifecycle events out to per-upload
// subscribers.
//
// Delivery contract: per upload, every subscriber observes events in publish
// order. A slow subscriber never blocks publishers or its peers; each
// subscriber has a bounded queue and, on overflow, the oldest progress events
// are coalesced away. Terminal events are never dropped. Publishing with no
// subscribers is a no-op.
package broadcast

import (
	"sync"
	"time"
)

// EventType tags an upload lifecycle event.
type EventType string

const (
	EventInitial    EventType = "initial"
	EventProgress   EventType = "progress"
	EventProcessing EventType = "processing"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	EventCancelled  EventType = "cancelled"
	// EventSnapshot is synthesized for late subscribers so they observe the
	// current state before the live stream.
	EventSnapshot EventType = "snapshot"
)

// Event is one upload lifecycle notification. Fields beyond Type and
// UploadID are populated per type.
type Event struct {
	Type     EventType `json:"type"`
	UploadID string    `json:"upload_id"`
	Seq      uint64    `json:"seq"`
	FileName string    `json:"file_name,omitempty"`
	State    string    `json:"state,omitempty"`

	Progress       float64 `json:"progress"`
	UploadedChunks int     `json:"uploaded_chunks"`
	TotalChunks    int     `json:"total_chunks"`
	SpeedBps       float64 `json:"speed_bps,omitempty"`
	ETASeconds     float64 `json:"eta_seconds,omitempty"`

	EntryID     string `json:"entry_id,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`

	At time.Time `json:"at"`
}

// Terminal reports whether the event ends the upload's stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	}
	return false
}

// DefaultQueueDepth bounds each subscriber's pending events.
const DefaultQueueDepth = 64

// Broadcaster is the per-upload event hub.
type Broadcaster struct {
	mu         sync.Mutex
	hubs       map[string]*hub
	queueDepth int
	nextSubID  uint64
}

type hub struct {
	subs     map[uint64]*subscriber
	lastSeq  uint64
	snapshot *Event // last published event, for late subscribers
}

// New creates a broadcaster. queueDepth <= 0 selects DefaultQueueDepth.
func New(queueDepth int) *Broadcaster {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Broadcaster{
		hubs:       make(map[string]*hub),
		queueDepth: queueDepth,
	}
}

// Subscription is one subscriber's handle on an upload's event stream.
type Subscription struct {
	uploadID string
	id       uint64
	sub      *subscriber
}

// Events returns the delivery channel. It is closed on Unsubscribe and after
// the terminal event has been delivered.
func (s *Subscription) Events() <-chan Event {
	return s.sub.out
}

// Subscribe registers a subscriber for an upload. If the upload has already
// published, a snapshot event is delivered first.
func (b *Broadcaster) Subscribe(uploadID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.hubs[uploadID]
	if h == nil {
		h = &hub{subs: make(map[uint64]*subscriber)}
		b.hubs[uploadID] = h
	}

	b.nextSubID++
	sub := newSubscriber(b.queueDepth)
	h.subs[b.nextSubID] = sub

	if h.snapshot != nil {
		snap := *h.snapshot
		snap.Type = EventSnapshot
		sub.enqueue(snap)
	}

	return &Subscription{uploadID: uploadID, id: b.nextSubID, sub: sub}
}

// Unsubscribe detaches a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	if h := b.hubs[s.uploadID]; h != nil {
		if sub, ok := h.subs[s.id]; ok {
			delete(h.subs, s.id)
			sub.close()
		}
	}
	b.mu.Unlock()
}

// Publish delivers an event to every subscriber of the upload, in publish
// order. The snapshot for late subscribers is updated even when nobody is
// listening.
func (b *Broadcaster) Publish(uploadID string, ev Event) {
	b.mu.Lock()
	h := b.hubs[uploadID]
	if h == nil {
		h = &hub{subs: make(map[uint64]*subscriber)}
		b.hubs[uploadID] = h
	}

	h.lastSeq++
	ev.Seq = h.lastSeq
	ev.UploadID = uploadID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	snap := ev
	h.snapshot = &snap

	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(ev)
	}
}

// Forget drops the hub of an upload. Existing subscriptions are closed.
// Called once the upload row itself is reaped.
func (b *Broadcaster) Forget(uploadID string) {
	b.mu.Lock()
	h := b.hubs[uploadID]
	delete(b.hubs, uploadID)
	b.mu.Unlock()

	if h == nil {
		return
	}
	for _, sub := range h.subs {
		sub.close()
	}
}

// ============================================================================
// Subscriber queue
// ============================================================================

// subscriber decouples publishers from the consumer: publishers append to a
// bounded queue under a private lock and a pump goroutine drains it into the
// out channel. Only the consumer can be slow, and only its own queue
// coalesces.
type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	depth  int
	closed bool

	wake chan struct{}
	done chan struct{}
	out  chan Event
}

func newSubscriber(depth int) *subscriber {
	s := &subscriber{
		depth: depth,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		out:   make(chan Event),
	}
	go s.pump()
	return s
}

// enqueue appends an event, coalescing on overflow: the oldest progress
// event in the queue is dropped first; if none is droppable and the incoming
// event is itself progress, the incoming event is skipped. Terminal events
// always enter the queue.
func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if len(s.queue) >= s.depth {
		dropped := false
		for i, queued := range s.queue {
			if queued.Type == EventProgress || queued.Type == EventSnapshot {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped && ev.Type == EventProgress {
			return
		}
	}

	s.queue = append(s.queue, ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var ev Event
		have := len(s.queue) > 0
		if have {
			ev = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if !have {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- ev:
			if ev.Terminal() {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}
