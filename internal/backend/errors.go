package backend

import (
	"errors"
	"fmt"
)

// Sentinel causes. These thread through the typed wrappers below so callers
// can classify with errors.Is without caring which backend produced them.
var (
	// ErrNotConnected: send/fetch attempted while the transport is down.
	ErrNotConnected = errors.New("not connected")
	// ErrTimeout: a bounded wait (authorization redirect, history fetch)
	// expired. Prior state is untouched.
	ErrTimeout = errors.New("timed out")
	// ErrStateMismatch: the OAuth callback's state nonce was absent or
	// wrong. The authorization fails; nothing is stored.
	ErrStateMismatch = errors.New("state nonce mismatch")
	// ErrMissingAppCredential: interactive authorize requires a client
	// id/secret pair and the environment supplied none.
	ErrMissingAppCredential = errors.New("missing app client credential")
	// ErrNotFound: attachment (or similar resource) does not exist.
	ErrNotFound = errors.New("not found")
)

// AuthError wraps any failure of the authorization handshake. Recoverable
// by re-running /auth.
type AuthError struct {
	Team string // short name, may be empty before a team exists
	Err  error
}

func (e *AuthError) Error() string {
	if e.Team == "" {
		return fmt.Sprintf("auth: %v", e.Err)
	}
	return fmt.Sprintf("auth (%s): %v", e.Team, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectError wraps a failed transport establishment or credential
// validation. Recoverable by /connect.
type ConnectError struct {
	Team string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect (%s): %v", e.Team, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError wraps a rejected or failed message send. The message is
// surfaced to the user and never silently retried.
type SendError struct {
	Team string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send (%s): %v", e.Team, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// FetchError wraps a failed directory or history fetch. The caller keeps
// its prior cache.
type FetchError struct {
	Team string
	What string // "directory", "history", "attachment"
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.What, e.Team, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
