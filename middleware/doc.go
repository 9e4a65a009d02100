// Package middleware adapts engine token checks to net/http.
//
// [Guard] reads the Authorization bearer token, calls Engine.ValidateAccess and
// stores the claims in the request context. [RequireActiveUser] additionally
// loads the account and rejects deactivated users. Neither parses tokens
// itself.
package middleware
