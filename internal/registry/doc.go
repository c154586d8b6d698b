// Package registry holds the set of active subscribers.
//
// Entries are keyed by subscriber identity. Add is an upsert, Remove is
// idempotent, and Snapshot hands out an independent slice so a fan-out can
// iterate while other goroutines subscribe and unsubscribe.
package registry
