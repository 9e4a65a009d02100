// Package jwt issues and verifies the access/refresh token pair handed out
// after a successful login. Access tokens carry the optional identity claims
// (email, mobile, name); refresh tokens carry only the user id.
package jwt
