// Package cache deduplicates derivative computations.
//
// GetOrCompute runs at most one computation per key at a time and hands the
// same result to every caller that asked while it was running. Results can
// be persisted to an external Store (redis) so they survive restarts; keys
// embed a content fingerprint, so a changed file never hits a stale entry.
package cache
