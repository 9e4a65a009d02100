// Package rate provides Redis-backed fixed-window counters that throttle
// failed logins and token refreshes.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes
// (after the configured namespace):
//   - al:  — failed logins per identifier
//   - ali: — failed logins per IP
//   - ar:  — refreshes per user
//
// # What this package must NOT do
//
//   - Decide how a limit surfaces to callers (the engine maps ErrRateLimited).
//   - Be imported outside the goIdentity module.
package rate
