// Package boundary is the message contract between the host process and the
// interface process. Commands are call/response, events are fire-and-forget,
// and nothing is shared except the frames that cross a Transport.
package boundary

import (
	"encoding/json"
	"time"
)

// Channel names are stable across versions. New capabilities get new names.
const (
	ChannelLogMessage    = "log:message"
	ChannelGetSettings   = "settings:get"
	ChannelSetSettings   = "settings:set"
	ChannelGetSources    = "sources:get"
	ChannelSaveRecording = "recording:save"

	// ChannelSaveRecordingPart carries one slice of a recording too large
	// for a single frame. The slices are joined by a later recording:save
	// naming the same upload.
	ChannelSaveRecordingPart = "recording:save-part"
)

type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Valid reports whether l is one of the three known levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// LogEntry is one line of the log panel.
type LogEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
}

// TimestampLayout matches JavaScript's toISOString output.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

func NewLogEntry(level LogLevel, message string) LogEntry {
	return LogEntry{
		Timestamp: time.Now().UTC().Format(TimestampLayout),
		Level:     level,
		Message:   message,
	}
}

// CaptureSource is a screen or window the interface can record.
// Thumbnail is a data URL, or empty when none could be produced.
type CaptureSource struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Thumbnail string `json:"thumbnail"`
}

// SaveRecordingRequest saves Payload, or the parts already sent under Upload
// when Upload is set.
type SaveRecordingRequest struct {
	Payload   []byte `json:"payload,omitempty"`
	Upload    string `json:"upload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SaveRecordingPart is slice Index of an upload. Parts arrive in order,
// starting at zero.
type SaveRecordingPart struct {
	Upload string `json:"upload"`
	Index  int    `json:"index"`
	Data   []byte `json:"data"`
}

// Kind tells the receiver how to route a Message.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// Message is the single frame type carried by every Transport.
type Message struct {
	Type    Kind            `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
