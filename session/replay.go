package session

import (
	"sync"

	"github.com/dere-run/dered"
)

// replayBufferCap bounds how many events a session keeps in memory for
// late subscribers to catch up on. Past this, the oldest events are
// evicted and a subscriber starting before the oldest retained Seq is told
// about the gap via a synthesized dered.EventGap event instead of silently
// missing data.
const replayBufferCap = 500

// replayBuffer is a fixed-capacity ring of recent events plus the set of
// live subscribers, grounded on serve/server.go's activeStream but adding
// gap reporting: the teacher silently drops events for a slow SSE
// subscriber channel, which is fine for a single human watching a
// dashboard but not for a swarm coordinator that needs to know it missed
// something.
type replayBuffer struct {
	mu          sync.Mutex
	events      []dered.StreamEvent // oldest first
	subscribers []*subscriber
}

type subscriber struct {
	ch     chan dered.StreamEvent
	closed bool
}

func newReplayBuffer() *replayBuffer {
	return &replayBuffer{}
}

// publish appends an event to history and fans it out to every live
// subscriber. A subscriber whose channel is full has events dropped for it
// silently in the moment; it can fetch them again by resubscribing through
// Service.Subscribe with the last Seq it saw, and it is told of a gap only
// if the buffer's retained window has moved past what it received.
func (rb *replayBuffer) publish(e dered.StreamEvent) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.events = append(rb.events, e)
	if len(rb.events) > replayBufferCap {
		rb.events = rb.events[len(rb.events)-replayBufferCap:]
	}
	for _, sub := range rb.subscribers {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// subscribe returns a replay of retained history plus a channel fed with
// future events. fromSeq of 0 means "from the start of retained history".
func (rb *replayBuffer) subscribe(fromSeq uint64) ([]dered.StreamEvent, *subscriber) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var replay []dered.StreamEvent
	if len(rb.events) > 0 {
		oldest := rb.events[0].Seq
		if fromSeq > 0 && fromSeq < oldest {
			replay = append(replay, dered.StreamEvent{
				Type:        dered.EventGap,
				SessionID:   rb.events[0].SessionID,
				SkippedFrom: fromSeq,
				SkippedTo:   oldest,
			})
		}
		for _, e := range rb.events {
			if e.Seq >= fromSeq {
				replay = append(replay, e)
			}
		}
	}

	sub := &subscriber{ch: make(chan dered.StreamEvent, 256)}
	rb.subscribers = append(rb.subscribers, sub)
	return replay, sub
}

func (rb *replayBuffer) unsubscribe(sub *subscriber) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for _, s := range rb.subscribers {
		if s == sub {
			s.closed = true
			return
		}
	}
}

// finish closes every live subscriber channel. Called once the session is
// torn down so range-over-channel readers terminate.
func (rb *replayBuffer) finish() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for _, sub := range rb.subscribers {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
}
