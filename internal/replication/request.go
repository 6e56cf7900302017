package replication

// ExecutionMode distinguishes requests the sender blocks on from
// fire-and-forget ones (SPEC_FULL.md §3).
type ExecutionMode int

const (
	// ModeResponse means Send blocks for the response-collection phase.
	ModeResponse ExecutionMode = iota
	// ModeNoResponse means Send returns immediately after a successful
	// fan-out, skipping collection entirely.
	ModeNoResponse
)
