package downloader

// Event represents a lifecycle notification for a single key.
//
// Workers emit Start, Progress, Complete and Failed. The coordinating
// manager additionally produces Cancelled and Cleared when a caller detaches
// the subscribers of a key, so observers see one event vocabulary.
type Event struct {
	Key     string
	Type    EventType
	Percent int
	// Path is the resolved local location for Complete and Cleared events.
	Path string
	// Message describes the failure for Failed events.
	Message string
	// Success is only meaningful for Cleared events.
	Success bool
}

// EventType defines the set of events that flow from workers to subscribers.
type EventType string

const (
	EventStart     EventType = "Start"
	EventProgress  EventType = "Progress"
	EventComplete  EventType = "Complete"
	EventFailed    EventType = "Failed"
	EventCancelled EventType = "Cancelled"
	EventCleared   EventType = "Cleared"
)

// Terminal reports whether the event ends a worker's reporting obligations.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventFailed
}
