// Package fiberworks provides fibers: lightweight sequential execution
// contexts for building concurrent programs out of single-threaded pieces.
//
// A fiber runs the actions enqueued onto it one at a time, in enqueue
// order, never two at once. State touched only from one fiber's actions
// needs no locks. Many fibers can share a small worker pool.
//
// # Fiber Kinds
//
// [PoolFiber] drains its queue on a shared [ThreadPool] such as [Pool]:
//
//	pool := fiberworks.NewPool(ctx, 4)
//	defer pool.Close()
//
//	f := fiberworks.NewPoolFiber(pool, fiberworks.WithName("orders"))
//	defer f.Dispose()
//
//	f.Enqueue(func() { orders[id] = o })
//
// [ThreadFiber] owns a dedicated goroutine locked to its OS thread and
// reads a bounded lock-free ring. [StubFiber] runs nothing on its own;
// tests drive it with [StubFiber.ExecutePending] and
// [StubFiber.ExecuteAllScheduled] for deterministic timing.
//
// # Pause and Resume
//
// An action may call [Fiber.Pause] before handing work to another
// goroutine. The fiber stops draining until [Fiber.Resume] is called; the
// continuation passed to Resume runs before anything else in the queue.
// [Fiber.EnqueueAsync] packages that pattern.
//
// # Panic Policies
//
// Each fiber runs actions through an [Executor]. The default recovers
// panics according to a [PanicPolicy]:
//
//   - [LogAndContinue] logs the panic and runs the next action (default).
//   - [Ignore] drops the panic silently.
//   - [AbortBatch] drops the rest of the current drain; later enqueues
//     still run.
//
// [WithOnError] observes every recovered [*PanicError].
//
// # Scheduling and Disposal
//
// [Fiber.Schedule] and [Fiber.ScheduleRepeating] enqueue actions after a
// delay. Every handle is a [Disposable]; [Unsubscriber] composes them into
// trees. Disposing a fiber drops its queue and disposes every scope from
// [Fiber.BeginSubscription], which is how channel subscriptions and timers
// die with the fiber that owns them.
//
// # Observability
//
// [Pool.Stats] and the fibers' Stats methods return counters. [Collector]
// exports them as Prometheus metrics.
//
// Publish/subscribe channels built on fibers live in the channels
// subpackage.
package fiberworks
