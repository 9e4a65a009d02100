// Package goIdentity is an authentication engine for username, email and
// mobile sign-in with one-time passwords and JWT issuance.
//
// # OTP lifecycle
//
// Every email address or mobile number owns one OTP record. GenerateOTP
// issues a code unless the destination is cooling down, SendOTP claims the
// send atomically and starts the cooling period, and ValidateOTP spends one
// attempt per call, resetting the code once the attempts run out. A validated
// record is the proof of ownership registration and profile updates require.
//
// # Flows
//
//   - Login: password sign-in by username, email or mobile, throttled in Redis.
//   - RequestOTP / VerifyOTP: OTP issuance and verification, optionally signing in.
//   - Register: account creation gated on OTP-verified contact fields.
//   - Profile / UpdateProfile: partial updates under the same rules.
//   - RefreshToken / VerifyToken / ValidateAccess: token lifecycle.
//
// # Architecture boundaries
//
// The engine owns flow orchestration and the public error taxonomy. Storage
// (UserStore, OTPStore) and delivery (MessagingGateway) are injected through
// the Builder; implementations live in storage/ and messaging/. HTTP lives in
// httpapi/.
package goIdentity
