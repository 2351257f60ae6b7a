package domain

import "errors"

var (
	ErrAdmissionRejected  = errors.New("admission rejected")
	ErrValidationRejected = errors.New("validation rejected")
	ErrRateLimited        = errors.New("rate limited")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrNotFound           = errors.New("not found")
	ErrConnectionClosed   = errors.New("connection closed")
)
