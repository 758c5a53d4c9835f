package domain

import (
	"time"
)

// SessionSnapshot stores the last published context of a viewing session so a
// learner reopening the same video can see the permanent part of the timeline.
type SessionSnapshot struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	VideoID     string    `json:"video_id"`
	ContextJSON string    `json:"context_json"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
