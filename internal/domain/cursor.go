package domain

import "time"

// EventCursor is the singleton poll position. Cursor is nil before the first
// successful poll ("fetch from the beginning"); it only moves forward during
// normal operation and is reset solely by the explicit re-initialization op.
type EventCursor struct {
	Cursor       *string    `json:"cursor,omitempty"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
}
