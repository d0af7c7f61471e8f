package audit

import (
	"context"
	"time"
)

const (
	// StatusPending marks an invocation that has been submitted but not resolved.
	StatusPending = "pending"
	// StatusSuccess marks an invocation acknowledged by the ledger network.
	StatusSuccess = "success"
	// StatusFailed marks an invocation rejected or lost by the ledger network.
	StatusFailed = "failed"
)

// InvocationLog is the append-only record of a single ledger gateway call
// attempt. Terminal rows are never edited.
type InvocationLog struct {
	ID              string
	Contract        string
	Function        string
	Classification  string
	Status          string
	RequestPayload  string
	ResponsePayload string
	ExecutionMs     int64
	BlockRef        string
	ErrorMessage    string
	CreatedAt       time.Time
}

// InvocationFilter narrows List results for the analytics consumer.
type InvocationFilter struct {
	Contract string
	Status   string
	From     time.Time
	To       time.Time
	Page     int
	Limit    int
}

// InvocationStore persists gateway invocation attempts.
type InvocationStore interface {
	Append(ctx context.Context, rec InvocationLog) error
	List(ctx context.Context, filter InvocationFilter) ([]InvocationLog, error)
}
