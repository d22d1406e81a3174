// Package async provides small generic helpers for waiting on results that
// arrive asynchronously.
//
// Future is the read side of an eventual value. It is settled exactly once:
// the first completion wins and every later attempt is a no-op, which makes it
// safe to race several completion sources (an event callback, a polling loop,
// a hard timeout) against the same Future.
//
// Promise is the write side. It adapts callback-style APIs, where a request is
// issued through one call and the answer arrives later through an event
// emitter, into something the caller can Await.
//
// Registry keeps at most one in-flight Promise per request kind, so an event
// listener can find the continuation it has to settle.
//
// # Usage
//
//	reg := async.NewRegistry[string, []Product]()
//
//	fut, err := reg.Register("products")
//	if err != nil {
//	    return err // a request of this kind is already in flight
//	}
//	defer reg.Forget("products", fut)
//
//	// elsewhere, in the event listener:
//	reg.Resolve("products", products)
//
//	products, err := fut.AwaitWithTimeout(10 * time.Second)
//
// Async runs a function in its own goroutine and returns a Future for its
// result.
package async
