package durablesaga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	executor *Executor
	store    Store
	logger   *zap.Logger
	metrics  *Metrics
	clock    func() time.Time
}

// WithExecutor sets the compensation executor. The default runs
// compensations sequentially.
func WithExecutor(e *Executor) RuntimeOption {
	return func(c *runtimeConfig) {
		c.executor = e
	}
}

// WithStore sets where instance records are persisted. The default is a
// MemoryStore.
func WithStore(s Store) RuntimeOption {
	return func(c *runtimeConfig) {
		c.store = s
	}
}

// WithLogger sets the runtime logger.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(c *runtimeConfig) {
		c.logger = l
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(m *Metrics) RuntimeOption {
	return func(c *runtimeConfig) {
		c.metrics = m
	}
}

// WithClock replaces time.Now as the source of history timestamps.
func WithClock(clock func() time.Time) RuntimeOption {
	return func(c *runtimeConfig) {
		c.clock = clock
	}
}

// Runtime runs saga instances of one plan in process.
//
// Each instance keeps a History of its activity calls. Interrupting an
// instance abandons its current execution at the next suspension point;
// resuming it runs the body again from the top, answering every call that
// already finished from history, so no completed activity runs twice and
// the compensation registry comes back exactly as it was.
type Runtime[I any] struct {
	plan      *Plan[I]
	invoker   ActivityInvoker
	executor  *Executor
	store     Store
	logger    *zap.Logger
	metrics   *Metrics
	clock     func() time.Time
	instances *xsync.MapOf[InstanceID, *instance[I]]

	ctx    context.Context
	cancel context.CancelFunc
}

type instance[I any] struct {
	id      InstanceID
	input   I
	history *History

	mu         sync.Mutex
	record     InstanceRecord
	cancel     context.CancelFunc
	done       chan struct{}
	terminated bool
	reason     string
}

// NewRuntime creates a runtime for plan whose activities are served by
// invoker.
func NewRuntime[I any](plan *Plan[I], invoker ActivityInvoker, opts ...RuntimeOption) *Runtime[I] {
	cfg := runtimeConfig{
		store:  NewMemoryStore(),
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.executor == nil {
		cfg.executor = NewExecutor(CompensationSequential)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime[I]{
		plan:      plan,
		invoker:   invoker,
		executor:  cfg.executor,
		store:     cfg.store,
		logger:    cfg.logger.With(zap.String("saga", string(plan.Name()))),
		metrics:   cfg.metrics,
		clock:     cfg.clock,
		instances: xsync.NewMapOf[InstanceID, *instance[I]](),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start creates a new instance and begins executing it in the background.
func (r *Runtime[I]) Start(ctx context.Context, input I) (InstanceID, error) {
	if r.ctx.Err() != nil {
		return "", errors.New("runtime is closed")
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode saga input: %w", err)
	}

	now := r.clock()
	inst := &instance[I]{
		id:      InstanceID(uuid.NewString()),
		input:   input,
		history: NewHistory(),
	}
	inst.record = InstanceRecord{
		ID:        inst.id,
		SagaName:  r.plan.Name(),
		Status:    InstanceRunning,
		Input:     raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Save(ctx, inst.record); err != nil {
		return "", fmt.Errorf("save instance %s: %w", inst.id, err)
	}

	inst.mu.Lock()
	exec := r.arm(inst)
	inst.mu.Unlock()

	r.instances.Store(inst.id, inst)
	r.metrics.started(r.plan.Name())
	r.logger.Info("saga instance started", zap.String("instance_id", string(inst.id)))

	r.run(inst, exec)
	return inst.id, nil
}

// Execute starts an instance and waits for its outcome.
func (r *Runtime[I]) Execute(ctx context.Context, input I) (InstanceID, *SagaOutcome, error) {
	id, err := r.Start(ctx, input)
	if err != nil {
		return "", nil, err
	}
	outcome, err := r.Wait(ctx, id)
	return id, outcome, err
}

// execution is one run of an instance body.
type execution struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// arm gives the instance a fresh execution. The caller must hold inst.mu
// and must pass the result to run.
func (r *Runtime[I]) arm(inst *instance[I]) execution {
	ctx, cancel := context.WithCancel(r.ctx)
	inst.cancel = cancel
	inst.done = make(chan struct{})
	return execution{ctx: ctx, cancel: cancel, done: inst.done}
}

func (r *Runtime[I]) run(inst *instance[I], exec execution) {
	go func() {
		defer close(exec.done)
		defer exec.cancel()
		r.execute(exec.ctx, inst)
	}()
}

// execute runs the body once, from the top, against the instance history.
func (r *Runtime[I]) execute(ctx context.Context, inst *instance[I]) {
	logger := r.logger.With(zap.String("instance_id", string(inst.id)))
	host := newReplayHost(ctx, inst.id, inst.history, r.invoker, r.clock, logger, inst.createdAt())

	outcome, err := runBody(r.plan, r.executor, host, inst.input)
	host.wait()

	switch {
	case errors.Is(err, errInterrupted):
		inst.mu.Lock()
		terminated := inst.terminated
		rec := r.apply(inst, func(rec *InstanceRecord) {
			if terminated {
				rec.Status = InstanceTerminated
				rec.Error = inst.reason
				return
			}
			rec.Status = InstanceInterrupted
		})
		inst.mu.Unlock()
		r.persist(rec)

		if terminated {
			r.finished(inst, InstanceTerminated, nil)
			return
		}
		logger.Info("saga instance interrupted", zap.Int("recorded_calls", inst.history.Len()))

	case err != nil:
		logger.Error("saga instance failed", zap.Error(err))
		r.finish(inst, InstanceFailed, nil, err.Error())

	case outcome.Status == OutcomeCompleted:
		r.finish(inst, InstanceCompleted, &outcome, "")

	default:
		r.finish(inst, InstanceRolledBack, &outcome, "")
	}
}

func (r *Runtime[I]) finish(inst *instance[I], status InstanceStatus, outcome *SagaOutcome, message string) {
	r.update(inst, func(rec *InstanceRecord) {
		rec.Status = status
		rec.Outcome = outcome
		rec.Error = message
	})
	r.finished(inst, status, outcome)
}

func (r *Runtime[I]) finished(inst *instance[I], status InstanceStatus, outcome *SagaOutcome) {
	r.metrics.finished(r.plan.Name(), status, outcome, r.clock().Sub(inst.createdAt()))
	r.logger.Info("saga instance finished",
		zap.String("instance_id", string(inst.id)),
		zap.String("status", string(status)))
}

// update applies fn to the instance record and persists it.
func (r *Runtime[I]) update(inst *instance[I], fn func(rec *InstanceRecord)) {
	inst.mu.Lock()
	rec := r.apply(inst, fn)
	inst.mu.Unlock()
	r.persist(rec)
}

// apply changes the in-memory record. The caller must hold inst.mu.
func (r *Runtime[I]) apply(inst *instance[I], fn func(rec *InstanceRecord)) InstanceRecord {
	fn(&inst.record)
	inst.record.UpdatedAt = r.clock()
	return inst.record
}

// persist saves rec. Failures are logged; the in-memory record stays
// authoritative.
func (r *Runtime[I]) persist(rec InstanceRecord) {
	if err := r.store.Save(context.Background(), rec); err != nil {
		r.logger.Warn("failed to persist instance record",
			zap.String("instance_id", string(rec.ID)),
			zap.Error(err))
	}
}

func (inst *instance[I]) createdAt() time.Time {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.record.CreatedAt
}

func (inst *instance[I]) status() InstanceStatus {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.record.Status
}

func (r *Runtime[I]) lookup(id InstanceID) (*instance[I], error) {
	inst, ok := r.instances.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return inst, nil
}

// GetOutcome returns the outcome of a finished instance. It returns
// ErrPending while the instance is running or interrupted and ErrTerminated
// for a terminated instance. Instances unknown to this runtime are looked
// up in the store.
func (r *Runtime[I]) GetOutcome(ctx context.Context, id InstanceID) (*SagaOutcome, error) {
	var rec InstanceRecord
	if inst, ok := r.instances.Load(id); ok {
		inst.mu.Lock()
		rec = inst.record
		inst.mu.Unlock()
	} else {
		stored, err := r.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		rec = *stored
	}
	return outcomeOf(rec)
}

func outcomeOf(rec InstanceRecord) (*SagaOutcome, error) {
	switch rec.Status {
	case InstanceCompleted, InstanceRolledBack:
		return rec.Outcome, nil
	case InstanceTerminated:
		return nil, ErrTerminated
	case InstanceFailed:
		return nil, fmt.Errorf("saga instance %s failed: %s", rec.ID, rec.Error)
	default:
		return nil, ErrPending
	}
}

// Wait blocks until the current execution of an instance ends and returns
// its outcome. If the execution was interrupted Wait returns ErrPending.
func (r *Runtime[I]) Wait(ctx context.Context, id InstanceID) (*SagaOutcome, error) {
	inst, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	done := inst.done
	inst.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.GetOutcome(ctx, id)
}

// Interrupt stops a running instance at its next suspension point and
// waits for the execution to unwind. Calls that were in flight stay open in
// history and run again on Resume.
func (r *Runtime[I]) Interrupt(ctx context.Context, id InstanceID) error {
	inst, err := r.lookup(id)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	if inst.record.Status != InstanceRunning {
		status := inst.record.Status
		inst.mu.Unlock()
		return fmt.Errorf("cannot interrupt instance %s in status %s", id, status)
	}
	cancel, done := inst.cancel, inst.done
	inst.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume continues an interrupted instance by running its body again
// against the recorded history. Of several concurrent calls for one
// instance exactly one succeeds.
func (r *Runtime[I]) Resume(ctx context.Context, id InstanceID) error {
	if r.ctx.Err() != nil {
		return errors.New("runtime is closed")
	}
	inst, err := r.lookup(id)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	if status := inst.record.Status; status != InstanceInterrupted {
		inst.mu.Unlock()
		return fmt.Errorf("cannot resume instance %s in status %s", id, status)
	}
	rec := r.apply(inst, func(rec *InstanceRecord) {
		rec.Status = InstanceRunning
	})
	exec := r.arm(inst)
	inst.mu.Unlock()

	r.persist(rec)
	r.logger.Info("saga instance resumed",
		zap.String("instance_id", string(id)),
		zap.Int("recorded_calls", inst.history.Len()))

	r.run(inst, exec)
	return nil
}

// Terminate stops an instance for good. No compensations run: a terminated
// instance has no outcome and GetOutcome reports ErrTerminated. If the
// instance finishes on its own before it can be stopped Terminate returns
// an error and the instance keeps its outcome.
func (r *Runtime[I]) Terminate(ctx context.Context, id InstanceID, reason string) error {
	inst, err := r.lookup(id)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	switch status := inst.record.Status; status {
	case InstanceRunning:
		inst.terminated = true
		inst.reason = reason
		cancel, done := inst.cancel, inst.done
		inst.mu.Unlock()

		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if status := inst.status(); status != InstanceTerminated {
			return fmt.Errorf("instance %s finished as %s before it was terminated", id, status)
		}
		return nil

	case InstanceInterrupted:
		inst.terminated = true
		inst.reason = reason
		rec := r.apply(inst, func(rec *InstanceRecord) {
			rec.Status = InstanceTerminated
			rec.Error = reason
		})
		inst.mu.Unlock()

		r.persist(rec)
		r.finished(inst, InstanceTerminated, nil)
		return nil

	default:
		inst.mu.Unlock()
		return fmt.Errorf("cannot terminate instance %s in status %s", id, status)
	}
}

// Replay runs the body of a finished instance against its history without
// invoking any activity. It returns a *NondeterminismError if the body asks
// for a call history cannot answer.
func (r *Runtime[I]) Replay(id InstanceID) (*SagaOutcome, error) {
	inst, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	if status := inst.status(); status != InstanceCompleted && status != InstanceRolledBack {
		return nil, fmt.Errorf("cannot replay instance %s in status %s", id, status)
	}

	host := newReplayHost(context.Background(), inst.id, inst.history, nil, r.clock, zap.NewNop(), inst.createdAt())
	outcome, err := runBody(r.plan, r.executor, host, inst.input)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// History returns the recorded activity events of an instance.
func (r *Runtime[I]) History(id InstanceID) ([]HistoryEvent, error) {
	inst, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return inst.history.Events(), nil
}

// Instances returns the IDs of every instance this runtime has started.
func (r *Runtime[I]) Instances() []InstanceID {
	ids := make([]InstanceID, 0, r.instances.Size())
	r.instances.Range(func(id InstanceID, _ *instance[I]) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Close interrupts every running instance and waits for them to unwind.
// Interrupted instances keep their status.
func (r *Runtime[I]) Close() {
	r.cancel()
	r.instances.Range(func(_ InstanceID, inst *instance[I]) bool {
		inst.mu.Lock()
		done := inst.done
		inst.mu.Unlock()
		if done != nil {
			<-done
		}
		return true
	})
}
