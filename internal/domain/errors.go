package domain

import "errors"

var (
	// ErrValidation indicates a request or entity failed validation.
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates a requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a state transition was rejected.
	ErrConflict = errors.New("conflict")
	// ErrNoEndpoint indicates the tenant has no active webhook endpoint configured.
	ErrNoEndpoint = errors.New("no active webhook endpoint configured")
)
