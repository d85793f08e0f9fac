package store

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateName  = errors.New("organization name already exists")
	ErrDuplicateEmail = errors.New("admin email already exists")
	// ErrAlreadyExists is the collection-store level conflict: the derived
	// collection identifier is already taken.
	ErrAlreadyExists = errors.New("collection already exists")
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
