// Package password hashes passwords with Argon2id and checks candidate
// passwords against a strength policy.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful login.
//
// # Architecture boundaries
//
// Hash only rejects empty and oversized input. Length, common-password,
// numeric and attribute-similarity rules live in [Policy] and are applied by
// the engine before hashing.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other goIdentity package.
//   - Log plaintext passwords.
package password
