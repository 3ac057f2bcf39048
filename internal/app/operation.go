package app

import "time"

// Operation tracks the CLI command being run. Its ID tags every log line
// written during the command.
type Operation struct {
	ID         string
	Operation  string
	Parameters string
	Status     string // "success" or "error"
	StartedAt  time.Time
}

// NewOperation creates an operation started at the given time.
func NewOperation(operation, parameters string, at time.Time) *Operation {
	return &Operation{
		ID:         at.UTC().Format("20060102T150405Z"),
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
		StartedAt:  at,
	}
}

// Record marks the operation failed when err is non-nil.
func (op *Operation) Record(err error) {
	if err != nil {
		op.Status = "error"
	}
}

// Failed returns true if any recorded step failed.
func (op *Operation) Failed() bool {
	return op.Status == "error"
}
