package domain

import (
	"errors"
)

const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
	RunStatusTimedOut  = "TIMED_OUT"
	RunStatusCanceled  = "CANCELED"
)

var (
	ErrRunNotFound = errors.New("sync run not found")

	// ErrRunFinished is returned when canceling a run already in a terminal state
	ErrRunFinished = errors.New("sync run already in a terminal state")
)
