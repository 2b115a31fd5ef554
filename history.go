package durablesaga

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/btree"
)

// HistoryEventType is the kind of an activity history event.
type HistoryEventType int

const (
	EventScheduled HistoryEventType = iota
	EventCompleted
	EventFailed
)

func (t HistoryEventType) String() string {
	switch t {
	case EventScheduled:
		return "scheduled"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("Unknown HistoryEventType: %d", t)
	}
}

// MarshalJSON implements json.Marshaler.
func (t HistoryEventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *HistoryEventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "scheduled":
		*t = EventScheduled
	case "completed":
		*t = EventCompleted
	case "failed":
		*t = EventFailed
	default:
		return fmt.Errorf("invalid HistoryEventType: %s", s)
	}
	return nil
}

// HistoryEvent records one step in the life of an activity call. Seq is the
// position of the call in the workflow body, counted from zero.
type HistoryEvent struct {
	Seq      int64            `json:"seq"`
	Type     HistoryEventType `json:"type"`
	Activity ActivityName     `json:"activity"`
	Result   json.RawMessage  `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
	Time     time.Time        `json:"time"`
}

// String implements fmt.Stringer.
func (e HistoryEvent) String() string {
	return fmt.Sprintf("C%03d %s %s", e.Seq, e.Activity, e.Type)
}

// callStatus is the recorded status of one activity call.
type callStatus int

const (
	callNeverScheduled callStatus = iota
	callScheduled
	callCompleted
	callFailed
)

func (s callStatus) next(eventType HistoryEventType) (callStatus, error) {
	switch s {
	case callNeverScheduled:
		if eventType == EventScheduled {
			return callScheduled, nil
		}
	case callScheduled:
		switch eventType {
		case EventCompleted:
			return callCompleted, nil
		case EventFailed:
			return callFailed, nil
		}
	}
	return s, fmt.Errorf("illegal event type %s for call status %d", eventType, s)
}

type call struct {
	status    callStatus
	scheduled HistoryEvent
	closed    *HistoryEvent
}

// History is the recorded sequence of activity calls for one saga
// instance. The host consults it on replay to answer calls that already
// finished. It is safe for concurrent use; parallel compensations record
// their completions from separate goroutines.
type History struct {
	mu     sync.Mutex
	calls  *btree.Map[int64, *call]
	events []HistoryEvent
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{calls: btree.NewMap[int64, *call](16)}
}

// Record appends an event, enforcing scheduled -> completed|failed per call
// and that a call keeps the activity name it was scheduled with.
func (h *History) Record(event HistoryEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.calls.Get(event.Seq)
	if !ok {
		c = &call{}
	}
	next, err := c.status.next(event.Type)
	if err != nil {
		return fmt.Errorf("call %d: %w", event.Seq, err)
	}
	if event.Type == EventScheduled {
		c.scheduled = event
	} else {
		if event.Activity != c.scheduled.Activity {
			return fmt.Errorf("call %d: %s event for %s, scheduled as %s",
				event.Seq, event.Type, event.Activity, c.scheduled.Activity)
		}
		closed := event
		c.closed = &closed
	}
	c.status = next
	h.calls.Set(event.Seq, c)
	h.events = append(h.events, event)
	return nil
}

// Scheduled returns the scheduled event for call seq.
func (h *History) Scheduled(seq int64) (HistoryEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.calls.Get(seq)
	if !ok {
		return HistoryEvent{}, false
	}
	return c.scheduled, true
}

// Closed returns the completed or failed event for call seq.
func (h *History) Closed(seq int64) (HistoryEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.calls.Get(seq)
	if !ok || c.closed == nil {
		return HistoryEvent{}, false
	}
	return *c.closed, true
}

// Events returns a copy of every recorded event in recording order.
func (h *History) Events() []HistoryEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryEvent, len(h.events))
	copy(out, h.events)
	return out
}

// Len returns the number of calls that have been scheduled.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.calls.Len()
}

// String renders the history for debugging.
func (h *History) String() string {
	events := h.Events()

	var sb strings.Builder
	sb.WriteString("HISTORY:\n")
	sb.WriteString(fmt.Sprintf("events (%d total):\n", len(events)))
	for i, event := range events {
		sb.WriteString(fmt.Sprintf("%03d %s\n", i+1, event.String()))
	}
	return sb.String()
}
