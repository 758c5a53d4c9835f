// Package domain contains the core types of the video-agent coordinator.
package domain

import (
	"time"
)

// User is an anonymous learner identified per device.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
