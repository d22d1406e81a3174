// Package appstate tracks the two host signals the subscription core reacts
// to: whether a user session exists and the app lifecycle state.
package appstate
