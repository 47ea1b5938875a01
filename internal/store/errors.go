package store

import "errors"

var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidBatch   = errors.New("invalid record batch")
	ErrUnknownDriver  = errors.New("unknown database driver")
	ErrInvalidColumns = errors.New("invalid column set")
)
