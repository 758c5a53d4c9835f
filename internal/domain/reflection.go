package domain

import (
	"maps"
	"time"
)

// ReflectionKind is the medium a learner reflects with.
type ReflectionKind string

const (
	ReflectionVoice      ReflectionKind = "voice"
	ReflectionScreenshot ReflectionKind = "screenshot"
	ReflectionLoom       ReflectionKind = "loom"
)

// Valid reports whether k is a supported medium.
func (k ReflectionKind) Valid() bool {
	switch k {
	case ReflectionVoice, ReflectionScreenshot, ReflectionLoom:
		return true
	}
	return false
}

// Label returns the learner-facing name of the medium.
func (k ReflectionKind) Label() string {
	switch k {
	case ReflectionVoice:
		return "Voice Memo"
	case ReflectionScreenshot:
		return "Screenshot"
	case ReflectionLoom:
		return "Loom Video"
	}
	return string(k)
}

// ReflectionData is the captured reflection. Which fields are set depends on
// the kind; the protocol around it does not.
type ReflectionData struct {
	Kind            ReflectionKind `json:"kind"`
	AudioURL        string         `json:"audio_url,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	ImageURL        string         `json:"image_url,omitempty"`
	LoomURL         string         `json:"loom_url,omitempty"`
	Note            string         `json:"note,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy of d.
func (d *ReflectionData) Clone() *ReflectionData {
	if d == nil {
		return nil
	}
	out := *d
	if d.Extra != nil {
		out.Extra = maps.Clone(d.Extra)
	}
	return &out
}

// ReflectionRecord is what the persistence sink stores on submission.
type ReflectionRecord struct {
	ID             int64          `json:"id,omitempty"`
	UserID         string         `json:"user_id"`
	SessionID      string         `json:"session_id"`
	VideoID        string         `json:"video_id"`
	Type           ReflectionKind `json:"type"`
	VideoTimestamp float64        `json:"video_timestamp"`
	Payload        ReflectionData `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
}
