package store

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate client generated id")
	ErrVersionMismatch = errors.New("stored version changed")
)
