package schema

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"

	EventNodeReset      = "node_reset"
	EventNodeProcessing = "node_processing"
	EventNodeCompleted  = "node_completed"
	EventNodeFailed     = "node_failed"

	EventResultCreated    = "result_created"
	EventTemplateFallback = "template_fallback"
)

// RunStatus represents the lifecycle state of a single workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// NodeStatus represents the lifecycle state of a node within a run.
type NodeStatus string

const (
	NodeStatusIdle       NodeStatus = "idle"
	NodeStatusProcessing NodeStatus = "processing"
	NodeStatusCompleted  NodeStatus = "completed"
	NodeStatusError      NodeStatus = "error"
)
