package emit

// Event messages emitted by the executor. Pass-level events carry a zero
// Sequence and an empty Label.
const (
	MsgPassStarted     = "pass_started"
	MsgPassCompleted   = "pass_completed"
	MsgPassInterrupted = "pass_interrupted"
	MsgPassFailed      = "pass_failed"

	MsgStepMemoized  = "step_memoized"
	MsgStepRunning   = "step_running"
	MsgStepCompleted = "step_completed"
	MsgStepFailed    = "step_failed"
	MsgStepZombie    = "step_zombie"
	MsgStepRetrying  = "step_retrying"

	// MsgProgress is emitted by workflow code through Pass.Progress.
	MsgProgress = "progress"
)

// Event is one observability event from a pass.
type Event struct {
	// ExecutionID identifies the logical workflow instance.
	ExecutionID string

	// Sequence is the step's position in the pass (1-indexed), or zero for
	// pass-level events.
	Sequence int

	// Label is the step label, empty for pass-level events.
	Label string

	// Msg is one of the Msg* constants or a caller-defined progress message.
	Msg string

	// Meta holds event-specific fields. Common keys:
	//   - "attempt": attempt number of the step record
	//   - "duration_ms": wall time of the step's work
	//   - "error": error text for failed steps and passes
	//   - "point": where an interrupted step stopped
	//   - "tries": work attempts made within the pass
	Meta map[string]any
}
