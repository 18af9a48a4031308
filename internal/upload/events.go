package upload

// EventType names an observable upload or sync transition.
type EventType string

const (
	EventUploadProgress EventType = "upload_progress"
	EventUploadComplete EventType = "upload_complete"
	EventUploadFailed   EventType = "upload_failed"
	EventSyncProgress   EventType = "sync_progress"
	EventSyncComplete   EventType = "sync_complete"
	EventSyncFailed     EventType = "sync_failed"
)

// Event is published to observers after every acknowledged chunk and on
// completion or failure.
type Event struct {
	Type         EventType `json:"type"`
	SessionID    string    `json:"session_id,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	UploadedSize int64     `json:"uploaded_size"`
	TotalSize    int64     `json:"total_size"`
	Progress     int       `json:"progress"`
	Error        string    `json:"error,omitempty"`
}

// Notifier receives upload events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
