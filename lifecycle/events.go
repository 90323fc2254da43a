package lifecycle

import (
	"time"

	"github.com/poiesic/clearance/core"
)

// EventKind identifies a document lifecycle change.
type EventKind int

const (
	EventRegistered EventKind = iota + 1
	EventAccessChanged
	EventDeleted
	EventReembedRequested
)

func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "registered"
	case EventAccessChanged:
		return "access_changed"
	case EventDeleted:
		return "deleted"
	case EventReembedRequested:
		return "reembed_requested"
	default:
		return "unknown"
	}
}

// Event describes one change to a document.
type Event struct {
	Kind       EventKind
	DocumentID core.ID
	Access     core.AccessAttributes // attributes after the change
	Previous   core.AccessAttributes // attributes before an access change
	At         time.Time
}
