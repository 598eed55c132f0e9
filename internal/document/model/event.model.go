package model

// EventType names a change published after a successful workflow operation.
type EventType string

const (
	EventDocumentSubmitted EventType = "DOCUMENT_SUBMITTED"
	EventDocumentResolved  EventType = "DOCUMENT_RESOLVED"
)

type Event struct {
	Type     EventType
	Document *Document
}
