package sync

import (
	stdsync "sync"
	"time"
)

// EventType identifies a progress event.
type EventType string

const (
	EventStarted   EventType = "sync.started"
	EventProgress  EventType = "sync.progress"
	EventConflict  EventType = "sync.conflict_detected"
	EventCompleted EventType = "sync.completed"
	EventFailed    EventType = "sync.failed"
)

// Event is delivered to subscribers while a cycle runs.
type Event struct {
	Type             EventType   `json:"type"`
	Cycle            string      `json:"cycle"`
	State            State       `json:"state"`
	CurrentOperation string      `json:"current_operation,omitempty"`
	Processed        int         `json:"processed"`
	Total            int         `json:"total"`
	Error            string      `json:"error,omitempty"`
	Result           *SyncResult `json:"result,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
}

// broadcaster fans events out to subscribers. Delivery never blocks: a
// subscriber whose buffer is full misses the event.
type broadcaster struct {
	mu      stdsync.Mutex
	next    int
	subs    map[int]chan Event
	dropped int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once stdsync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
}

// droppedEvents returns how many deliveries were skipped because a subscriber was full.
func (b *broadcaster) droppedEvents() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
