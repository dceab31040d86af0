package model

import "errors"

var (
	// ErrNotFound is returned by stores when an exam, question, submission
	// or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyGraded is returned when a finalized submission would change.
	ErrAlreadyGraded = errors.New("submission already graded")
)
