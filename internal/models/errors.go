package models

import "errors"

var (
	ErrInvalidLocation = errors.New("invalid location")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrNotFound        = errors.New("not found")
	ErrAccessDenied    = errors.New("access denied")
	ErrStorage         = errors.New("storage unavailable")
)
