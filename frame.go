package livesync

import (
	"encoding/json"
	"fmt"
	"time"
)

// inbound push event types, per channel:
//
//	feed:          post_created, ready, pong
//	notifications: notification.created, notification.read_all, ready, pong
//	messages:      message.created, message.deleted, ready, pong
const (
	PushTypePostCreated         = "post_created"
	PushTypeNotificationCreated = "notification.created"
	PushTypeNotificationReadAll = "notification.read_all"
	PushTypeMessageCreated      = "message.created"
	PushTypeMessageDeleted      = "message.deleted"
	PushTypeReady               = "ready"
	PushTypePong                = "pong"
)

// one envelope covers all three channels. Only the field for the
// event type is set.
type PushEvent struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
	Message      *Message      `json:"message,omitempty"`
	At           int64         `json:"at,omitempty"`
}

func ParsePushEvent(payload []byte) (*PushEvent, error) {
	event := &PushEvent{}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, err
	}
	if event.Type == "" {
		return nil, fmt.Errorf("push event missing type")
	}
	return event, nil
}

// the feed socket keepalive is a json frame. The notification and
// message sockets use the raw `ping` literal (see RawPingPayload).
func FeedPingPayload() []byte {
	payload, _ := json.Marshal(map[string]any{
		"type": "ping",
		"at":   time.Now().UnixMilli(),
	})
	return payload
}
