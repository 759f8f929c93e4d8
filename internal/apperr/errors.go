package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAlreadyExists  = errors.New("already exists")
	ErrAnchorNotFound = errors.New("anchor not found")
	ErrInvalidOptions = errors.New("invalid options")
	ErrUnsupported    = errors.New("unsupported input format")
)
