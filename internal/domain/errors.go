package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
	// ErrDuplicateParts is raised when the merged create set still contains
	// a duplicate part after de-duplication. It aborts the create step of
	// the cycle; submitting it would risk a rejected or duplicated listing.
	ErrDuplicateParts = errors.New("duplicate part ids in create set")
)
