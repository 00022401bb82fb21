package ws

import (
	"github.com/timewarden/backend/internal/tracker"
)

type MessageType string

const (
	MsgSnapshot     MessageType = "snapshot"
	MsgDelta        MessageType = "delta"
	MsgGraceStarted MessageType = "grace_started"
	MsgBlocked      MessageType = "blocked"
	MsgReset        MessageType = "reset"
	MsgNotification MessageType = "notification"
	MsgError        MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Statuses []*tracker.Status `json:"statuses"`
}

type DeltaPayload struct {
	Updates []*tracker.Status `json:"updates"`
	Removed []string          `json:"removed,omitempty"`
}

// EventPayload carries a lifecycle event (grace start, block, reset,
// notification) for one hostname alongside its fresh status.
type EventPayload struct {
	Hostname string          `json:"hostname"`
	Status   *tracker.Status `json:"status,omitempty"`
}
