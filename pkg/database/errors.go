// Copyright 2025 Certen Protocol
//
// Package database provides sentinel errors for projection store operations.

package database

import "errors"

// Sentinel errors for projection store operations. Repositories return
// these instead of a bare sql.ErrNoRows so callers (the Dispatcher, the
// read API) can distinguish "not found" from a genuine store failure.
var (
	// ErrAccountNotFound is returned when an account row doesn't exist.
	ErrAccountNotFound = errors.New("isafe: account not found")

	// ErrMemberNotFound is returned when a member row doesn't exist.
	ErrMemberNotFound = errors.New("isafe: member not found")

	// ErrTransactionNotFound is returned when a status update targets a
	// digest with no matching row.
	ErrTransactionNotFound = errors.New("isafe: transaction not found")
)
