package events

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"perpstake/core/types"
)

const streamHistoryLimit = 2048

// Update is one sequenced event delivered to stream subscribers.
type Update struct {
	Sequence uint64       `json:"sequence"`
	Cursor   string       `json:"cursor"`
	Event    *types.Event `json:"event"`
}

func cloneUpdate(u Update) Update {
	cloned := u
	cloned.Event = u.Event.Clone()
	return cloned
}

// Stream is an Emitter that sequences events, keeps a bounded history and
// fans them out to subscribers. Slow subscribers drop updates rather than
// blocking the ledger.
type Stream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	history []Update
	subs    map[uint64]chan Update
	forward Emitter
}

// NewStream returns a stream that also forwards every event to next when
// non-nil.
func NewStream(next Emitter) *Stream {
	return &Stream{subs: make(map[uint64]chan Update), forward: next}
}

// Emit implements the Emitter interface.
func (s *Stream) Emit(e Event) {
	if s == nil || e == nil {
		return
	}
	payload := e.Event()
	if payload == nil {
		return
	}
	s.mu.Lock()
	s.seq++
	update := Update{Sequence: s.seq, Cursor: strconv.FormatUint(s.seq, 10), Event: payload}
	s.history = append(s.history, cloneUpdate(update))
	if len(s.history) > streamHistoryLimit {
		excess := len(s.history) - streamHistoryLimit
		trimmed := make([]Update, streamHistoryLimit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	// Sends happen under the lock so cancel cannot close a channel mid-send.
	for _, ch := range s.subs {
		select {
		case ch <- cloneUpdate(update):
		default:
		}
	}
	forward := s.forward
	s.mu.Unlock()

	if forward != nil {
		forward.Emit(e)
	}
}

// Subscribe registers a subscriber and returns the retained updates after
// cursor. The returned cancel func is idempotent and also runs when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, cursor string) (<-chan Update, func(), []Update) {
	updates := make(chan Update, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	history := make([]Update, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	backlog := make([]Update, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}
