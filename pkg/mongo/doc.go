// Package mongo connects to MongoDB with the v2 driver for the Mongo
// key-value store backend.
package mongo
