// Package httpapi serves the engine over HTTP with chi.
//
// Routes live under /api/user/: login/, register/, otp/, account/,
// token/refresh/ and token/verify/. Errors are JSON: {"detail": "..."} for
// single failures and {"field": ["msg", ...]} for validation failures.
package httpapi
