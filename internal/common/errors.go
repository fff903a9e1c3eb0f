// Package common defines sentinel errors and small helpers shared by the
// sync agent, its transports and its user-facing surfaces. Callers should
// use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrorNotFound = errors.New("not found")

	// Sync lifecycle errors.
	ErrSyncDisabled      = errors.New("sync is not enabled")
	ErrInvalidPassphrase = errors.New("invalid passphrase")

	// Trust errors raised when a peer has not proven knowledge of the passphrase.
	ErrUntrustedDevice   = errors.New("device is not trusted")
	ErrInvalidCredential = errors.New("invalid device credential")

	// Transport errors. A peer that cannot be reached is a per-device failure
	// and never aborts a whole cycle.
	ErrPeerUnavailable = errors.New("peer unavailable")

	// Validation errors.
	ErrorValidation = errors.New("validation error")
)
