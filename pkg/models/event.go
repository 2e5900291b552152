package models

import (
	"time"
)

// UserInfo carries the transport-level identity attached to every inbound event
type UserInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// PhotoEvent is one photo submission queued for processing
type PhotoEvent struct {
	EventID    string    `json:"event_id"`
	User       UserInfo  `json:"user"`
	PhotoRef   string    `json:"photo_ref"` // transport file reference for download
	Grouped    bool      `json:"grouped"`   // part of a multi-photo album
	ReceivedAt time.Time `json:"received_at"`
}
