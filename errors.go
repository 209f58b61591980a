package main

import "errors"

// Failure categories. Every fatal condition in the pipeline wraps one of
// these sentinels so main can report a categorized diagnostic; nothing is
// retried.
var (
	// ErrIO covers missing or unreadable inputs and unwritable outputs.
	ErrIO = errors.New("io")

	// ErrMalformed covers shape violations in target files and graph dumps.
	ErrMalformed = errors.New("malformed input")

	// ErrPrecondition covers violated analysis preconditions: empty target
	// set, unresolvable target, over-limit target count.
	ErrPrecondition = errors.New("precondition")

	// ErrStatistical covers invalid sample sets during distribution
	// estimation (zero variance, log-mean equality).
	ErrStatistical = errors.New("invalid data set")

	// ErrInternal covers broken invariants that a correct run never hits.
	ErrInternal = errors.New("unexpected")
)
