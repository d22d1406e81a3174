// Package cache provides a generic, thread-safe LRU cache with optional
// time-to-live expiry.
//
//	c := cache.NewLRUCache[string, Result](256, cache.WithTTL(10*time.Minute))
//	c.Put(receiptID, res)
//	if res, ok := c.Get(receiptID); ok {
//	    return res
//	}
//
// Expired entries are collected lazily on access.
package cache
