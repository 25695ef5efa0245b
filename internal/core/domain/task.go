package domain

// Priority orders tasks in the scrape queue. Higher values are served first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type ActionKind string

const (
	ActionFull      ActionKind = "full"
	ActionMediaOnly ActionKind = "media-only"
)

// Task is one unit of scrape work: a scanned ROM plus the action to perform.
type Task struct {
	ID       string
	Action   ActionKind
	Item     RomItem
	Priority Priority
	Seq      uint64 // insertion sequence, assigned by the queue
	Attempt  int    // retries consumed so far
}
