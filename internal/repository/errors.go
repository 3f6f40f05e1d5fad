package repository

import "errors"

// Ошибки уровня репозитория
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicate        = errors.New("duplicate record")
	ErrInvalidData      = errors.New("invalid data")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrStaleUpdate      = errors.New("conditional update did not match")
)
