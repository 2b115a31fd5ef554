package durablesaga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// errInterrupted reports that a body was unwound at a suspension point
// because its execution context ended.
var errInterrupted = errors.New("execution interrupted")

// interrupted is the panic value used to unwind a workflow body out of
// Future.Get. runBody converts it back into errInterrupted.
type interrupted struct{}

// replayHost is the in-process Host. Calls whose result is already in
// history are answered from it; anything else is handed to the invoker and
// recorded. A replayHost without an invoker is strict: any call missing
// from history is a NondeterminismError.
type replayHost struct {
	ctx     context.Context
	id      InstanceID
	history *History
	invoker ActivityInvoker
	clock   func() time.Time
	logger  *zap.Logger

	now      time.Time
	seq      int64
	inflight sync.WaitGroup
}

var _ Host = (*replayHost)(nil)

func newReplayHost(
	ctx context.Context,
	id InstanceID,
	history *History,
	invoker ActivityInvoker,
	clock func() time.Time,
	logger *zap.Logger,
	startedAt time.Time,
) *replayHost {
	return &replayHost{
		ctx:     ctx,
		id:      id,
		history: history,
		invoker: invoker,
		clock:   clock,
		logger:  logger,
		now:     startedAt,
	}
}

func (h *replayHost) InstanceID() InstanceID {
	return h.id
}

func (h *replayHost) Now() time.Time {
	return h.now
}

// Logger is silent while the next call the body makes is already answered
// by history, i.e. while the body is catching up with a previous run.
func (h *replayHost) Logger() *zap.Logger {
	if h.replaying() {
		return zap.NewNop()
	}
	return h.logger
}

func (h *replayHost) replaying() bool {
	_, ok := h.history.Closed(h.seq)
	return ok
}

func (h *replayHost) ExecuteActivity(opts ActivityOptions, name ActivityName, input any) Future {
	seq := h.seq
	h.seq++

	scheduled, known := h.history.Scheduled(seq)
	if known {
		if scheduled.Activity != name {
			panic(&NondeterminismError{Seq: seq, Expected: scheduled.Activity, Got: name})
		}
		if closed, ok := h.history.Closed(seq); ok {
			return resolvedFuture(h, closed)
		}
	}
	if h.invoker == nil {
		panic(&NondeterminismError{Seq: seq, Got: name})
	}

	if !known {
		h.record(HistoryEvent{Seq: seq, Type: EventScheduled, Activity: name, Time: h.clock()})
	}

	payload, err := json.Marshal(input)
	if err != nil {
		failed := HistoryEvent{
			Seq:      seq,
			Type:     EventFailed,
			Activity: name,
			Error:    fmt.Sprintf("encode input: %v", err),
			Time:     h.clock(),
		}
		h.record(failed)
		return resolvedFuture(h, failed)
	}

	f := &activityFuture{host: h, done: make(chan struct{})}
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()

		out, err := invokeWithOptions(h.ctx, h.invoker, opts, name, payload, h.logger)
		if h.ctx.Err() != nil {
			// The call stays open in history and runs again on resume.
			return
		}

		event := HistoryEvent{Seq: seq, Activity: name, Time: h.clock()}
		if err != nil {
			event.Type = EventFailed
			event.Error = err.Error()
		} else {
			event.Type = EventCompleted
			event.Result = out
		}
		h.record(event)
		f.resolve(event)
	}()
	return f
}

func (h *replayHost) record(event HistoryEvent) {
	if err := h.history.Record(event); err != nil {
		h.logger.Error("failed to record history event",
			zap.Stringer("event", event),
			zap.Error(err))
	}
}

// observe advances the deterministic clock to the time an awaited call
// finished.
func (h *replayHost) observe(t time.Time) {
	if t.After(h.now) {
		h.now = t
	}
}

// wait blocks until every activity goroutine started by this host returns.
func (h *replayHost) wait() {
	h.inflight.Wait()
}

type activityFuture struct {
	host  *replayHost
	done  chan struct{}
	event HistoryEvent
}

func resolvedFuture(h *replayHost, event HistoryEvent) *activityFuture {
	f := &activityFuture{host: h, done: make(chan struct{}), event: event}
	close(f.done)
	return f
}

func (f *activityFuture) resolve(event HistoryEvent) {
	f.event = event
	close(f.done)
}

func (f *activityFuture) Get(valuePtr any) error {
	select {
	case <-f.done:
	default:
		select {
		case <-f.done:
		case <-f.host.ctx.Done():
			panic(interrupted{})
		}
	}

	f.host.observe(f.event.Time)
	if f.event.Type == EventFailed {
		return &ActivityError{Activity: f.event.Activity, Message: f.event.Error}
	}
	if valuePtr == nil || len(f.event.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.event.Result, valuePtr); err != nil {
		return fmt.Errorf("decode result of %s: %w", f.event.Activity, err)
	}
	return nil
}

// runBody runs one pass of the driver body and converts the host's unwind
// panics into errors.
func runBody[I any](plan *Plan[I], executor *Executor, host Host, input I) (outcome SagaOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			switch v := p.(type) {
			case interrupted:
				err = errInterrupted
			case *NondeterminismError:
				err = v
			default:
				panic(p)
			}
		}
	}()
	return NewDriver(plan, executor).Run(host, input)
}
