package engine

import "fmt"

// ValidationError reports malformed input: over-sized content, a wrong
// vector dimension, or an unknown enum value. Always surfaces to the
// caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %s", e.Reason) }

// CapacityError reports that a write log stayed full past the
// backpressure window, or that too many transactions are prepared at
// once. Always surfaces to the caller; callers are expected to retry.
type CapacityError struct {
	Reason string
}

func (e *CapacityError) Error() string { return fmt.Sprintf("capacity: %s", e.Reason) }

// FatalIoError reports a WAL fsync or manifest rename failure. The shard
// that produced it enters read-only mode and refuses further writes
// until restarted.
type FatalIoError struct {
	Reason string
	Err    error
}

func (e *FatalIoError) Error() string { return fmt.Sprintf("fatal io: %s: %v", e.Reason, e.Err) }
func (e *FatalIoError) Unwrap() error { return e.Err }

// NotFoundError reports a lookup for an id the caller expected to exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

// TransactionAbortedError reports that a two-phase commit timed out or a
// participant failed prepare.
type TransactionAbortedError struct {
	TxID   string
	Reason string
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("transaction %s aborted: %s", e.TxID, e.Reason)
}

// CorruptStateError reports a segment checksum mismatch or a manifest
// parse failure. Like FatalIoError, it puts the affected shard into
// read-only mode.
type CorruptStateError struct {
	Reason string
	Err    error
}

func (e *CorruptStateError) Error() string { return fmt.Sprintf("corrupt state: %s: %v", e.Reason, e.Err) }
func (e *CorruptStateError) Unwrap() error { return e.Err }

// UnavailableError reports that an external dependency (the embedding
// service) failed. It is never returned for the write itself — a learn
// call with a failed embedding still succeeds, without a vector — but is
// exposed here for callers that want to log or surface the degradation.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string { return fmt.Sprintf("unavailable: %s", e.Reason) }
