// Package durablesaga coordinates compensation for sagas that run under a
// deterministic-replay host.
//
// A saga is a Plan of forward steps. Every step that succeeds and declares
// a compensating activity adds an entry to the CompensationRegistry. When a
// forward step fails, the Executor runs the registered compensations in
// reverse order, either one at a time or all at once, and collects every
// result instead of stopping at the first failure. The Driver turns the
// whole run into a SagaOutcome.
//
// The driver never touches activities directly. It schedules them on a
// Host, which may be the in-process Runtime of this package or the
// temporal subpackage. Both hosts re-run the saga body from the top after
// an interruption and answer each completed call from history, so the
// registry is rebuilt exactly as it was and no finished activity runs
// twice.
//
// Overview
//
//  1. Register activities in an ActivityRegistry.
//  2. Build a Plan with NewPlanBuilder.
//  3. Run it with NewRuntime(plan, registry).Execute, or with a
//     temporal.Workflow on a Temporal worker.
//
// See the order package for a complete saga.
package durablesaga
