// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request failed field validation.
var ErrValidation = errors.New("validation")

// ErrConflict indicates an operation conflicts with the entity's current state.
var ErrConflict = errors.New("conflict")
