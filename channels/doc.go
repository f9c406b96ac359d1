// Package channels is the publish/subscribe layer on top of fiberworks
// fibers.
//
// A [Channel] is a multicast bus. Publish copies the current handler list
// and calls each handler on the publishing goroutine, outside any lock, so
// subscribing and unsubscribing never race with an in-flight publish.
// Handlers subscribed with a fiber are wrapped in fiber.Enqueue, which is
// how messages cross goroutines while each consumer still sees them one at
// a time and in order.
//
// On top of that sit delivery filters ([Batch], [Last], [KeyedBatch]) that
// reshape delivery cadence, an [AckChannel] where handlers can claim a
// message and stop delivery, a [RequestReplyChannel] whose [ReplyBox]
// delivers a reply or a timeout exactly once, and a [SnapshotChannel] that
// primes a subscriber with a snapshot before streaming updates.
//
// Every subscription returns a *fiberworks.Unsubscriber. Subscriptions made
// with a fiber are also registered with that fiber, so disposing the fiber
// tears them down.
package channels
