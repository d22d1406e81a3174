// Package environment names the deployment environment the module runs in.
//
// The receipt validator relies on it to decide whether an unconfigured
// validation chain may report optimistic success (development only), and the
// logger picks its defaults from it.
package environment
