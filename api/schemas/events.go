package schemas

// EventType distinguishes broadcast messages.
type EventType string

const (
	EventStatusUpdate         EventType = "statusUpdate"
	EventElementPickedConfirm EventType = "elementPickedConfirm"
)

// Phase is the progress phase carried by a status update.
type Phase string

const (
	PhaseRunning      Phase = "running"
	PhaseGenerating   Phase = "generating"
	PhaseWaiting      Phase = "waiting"
	PhaseWaitingDelay Phase = "waiting_delay"
	PhaseDownloading  Phase = "downloading"
	PhasePaused       Phase = "paused"
	PhaseError        Phase = "error"
	PhaseIdle         Phase = "idle"
)

// StatusUpdate reports pipeline progress to any attached UI.
type StatusUpdate struct {
	Status Phase  `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ElementPickedConfirm reports the outcome of a picker session. A nil
// Descriptor means the user cancelled.
type ElementPickedConfirm struct {
	Role       ElementRole        `json:"role,omitempty"`
	Descriptor *ElementDescriptor `json:"descriptor,omitempty"`
}

// Event is the envelope published on the event bus.
type Event struct {
	Type         EventType             `json:"type"`
	StatusUpdate *StatusUpdate         `json:"statusUpdate,omitempty"`
	Picked       *ElementPickedConfirm `json:"picked,omitempty"`
}

// NewStatusEvent wraps a status update.
func NewStatusEvent(phase Phase, detail string) Event {
	return Event{Type: EventStatusUpdate, StatusUpdate: &StatusUpdate{Status: phase, Detail: detail}}
}

// NewPickedEvent wraps a picker outcome.
func NewPickedEvent(role ElementRole, desc *ElementDescriptor) Event {
	return Event{Type: EventElementPickedConfirm, Picked: &ElementPickedConfirm{Role: role, Descriptor: desc}}
}
