// Package internal holds helpers private to goIdentity: OTP code generation
// and identifier shape checks.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - rate: Redis fixed-window counters for login and refresh throttling
//   - security: posture report derived from the engine configuration
//   - stores: Redis OTP record store
//
// # What this package must NOT do
//
//   - Export types that appear in the public goIdentity API.
//   - Be imported by any package outside the goIdentity module.
package internal
