package store

import "errors"

var (
	ErrUnavailable = errors.New("store: temporarily unavailable")
	ErrUnknownUser = errors.New("store: unknown passkey")
	ErrNotFound = errors.New("store: not found")
)
