// Package stores provides the Redis-backed OTP record store.
//
// # Design
//
// Each destination owns one versioned, binary-encoded record that is upserted
// in place and never expires on its own. Mutations go through Update, which
// runs a caller-supplied transition inside a WATCH/MULTI optimistic transaction
// and retries on contention. Each unvalidated code also has an owner key naming
// its destination. Update watches that key, so a code is pending for at most
// one destination and a release never drops another destination's claim.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for OTP records. It
// does NOT generate codes, compare them, or decide cooldown and attempt
// policy; those live in the engine.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package.
//   - Log OTP codes.
package stores
