package utils

import "errors"

// PermError is a permanent error: retrying the same operation will not
// change the outcome. Used to short-circuit backoff loops.
type PermError string

func (e PermError) Error() string {
	return string(e)
}

func (e PermError) IsPermanent() bool {
	return true
}

// RetryableError marks an error as transient. The job scheduler owns the
// retry policy; this core only classifies.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err (or anything it wraps) is a transient
// failure worth retrying. Permanent errors always report false.
func IsRetryable(err error) bool {
	var p interface{ IsPermanent() bool }
	if errors.As(err, &p) && p.IsPermanent() {
		return false
	}
	var r RetryableError
	return errors.As(err, &r)
}

// ConflictError reports that another actor claimed a shared resource
// first. It is permanent for in-process backoff (repeating the identical
// claim cannot win) but the caller is expected to re-plan and try again.
type ConflictError string

func (e ConflictError) Error() string {
	return string(e)
}

func (e ConflictError) IsPermanent() bool {
	return true
}

func (e ConflictError) IsConflict() bool {
	return true
}

func IsConflict(err error) bool {
	var c interface{ IsConflict() bool }
	return errors.As(err, &c) && c.IsConflict()
}
