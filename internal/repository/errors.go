package repository

import "errors"

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNoActiveSession is returned by status updates when the user is not connected.
	ErrNoActiveSession = errors.New("no active session")
	// ErrDuplicate is returned when a unique username/email is already taken.
	ErrDuplicate = errors.New("duplicate record")
)
