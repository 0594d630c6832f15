package pipeline

import "fmt"

// TransferError reports a failed range fetch: network failure, HTTP error
// status or decompression failure.
type TransferError struct {
	Pointer    ChunkPointer
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transfer %s: status %d: %v", e.Pointer, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transfer %s: %v", e.Pointer, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// DecodeError reports a malformed index line, index record or archive segment.
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("decode: %v", e.Err)
	}
	return fmt.Sprintf("decode %q: %v", truncate(e.Input, 120), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DeliveryError reports that a batch could not be handed to the queue.
type DeliveryError struct {
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver batch after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
