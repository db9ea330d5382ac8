package domain

// State is the lifecycle position of a WorkItem.
type State int

// WorkItem states. There is no retry transition.
const (
	StatePending State = iota
	StateSubmitted
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSubmitted:
		return "SUBMITTED"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// WorkItem pairs a selector with the tile it produces.
type WorkItem struct {
	Seq        int // Submission order.
	Variable   string
	Selector   Selector // The daily pipeline uses a single time-axis selector.
	TargetPath string
}

// Outcome is the result of one dispatched WorkItem.
type Outcome struct {
	Item    WorkItem
	State   State
	Path    string
	Skipped bool // Target already existed.
	Err     error
}
