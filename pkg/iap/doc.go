// Package iap wraps a platform in-app purchase module.
//
// The native module follows an event-driven convention: request methods
// return as soon as the request is sent and the real answer arrives later
// through an event (purchase updated, purchase error, products loaded).
// Bridge resolves the module lazily, reports ErrNativeModuleUnavailable when
// the platform has none, and fans events out to listeners registered with
// Listen.
//
// Sandbox is a scriptable NativeModule: purchases can be completed, failed or
// cancelled by hand or automatically, callbacks can be dropped, and catalog
// prices can be corrupted to exercise the engine's defensive paths.
package iap
