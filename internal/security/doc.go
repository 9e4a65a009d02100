// Package security derives a read-only posture report from engine settings.
// It performs no I/O.
package security
