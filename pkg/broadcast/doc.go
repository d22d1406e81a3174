// Package broadcast provides a generic in-memory fan-out of typed messages.
//
// MemoryBroadcaster never blocks the publisher: every subscriber owns a
// buffered channel and a message that does not fit is dropped for that
// subscriber only. Subscriptions end when their context is done or when the
// broadcaster is closed.
//
// Listen is the usual way to consume messages: it registers the subscription
// synchronously and runs a callback for every message in its own goroutine.
//
//	events := broadcast.NewMemoryBroadcaster[Event](64)
//	stop := broadcast.Listen(ctx, events, func(e Event) {
//	    handle(e)
//	})
//	defer stop()
//
//	_ = events.Broadcast(ctx, broadcast.Message[Event]{Data: e})
package broadcast
