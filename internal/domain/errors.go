package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNoPosition       = errors.New("no open position")
	ErrInsufficientData = errors.New("insufficient data")
	ErrRejected         = errors.New("proposal rejected")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrContextDone      = errors.New("context cancelled")
)
