package syncer

import "errors"

var (
	// ErrAlreadyRunning is returned when another run holds a live lease on the target.
	ErrAlreadyRunning = errors.New("sync already running")

	// ErrUnknownTarget is returned for a target name that is not registered.
	ErrUnknownTarget = errors.New("unknown sync target")
)
