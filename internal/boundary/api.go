package boundary

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/screenslate/screenslate/internal/config"
)

// SavePartSize is the largest slice of a recording sent in one frame.
const SavePartSize = 4 << 20

// API is the typed command set the interface uses to reach the host.
type API struct {
	client   *Client
	partSize int
}

type APIOption func(*API)

// WithPartSize overrides SavePartSize.
func WithPartSize(n int) APIOption {
	return func(a *API) {
		if n > 0 {
			a.partSize = n
		}
	}
}

func NewAPI(c *Client, opts ...APIOption) *API {
	a := &API{client: c, partSize: SavePartSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) GetSettings(ctx context.Context) (config.Settings, error) {
	var s config.Settings
	err := a.client.Call(ctx, ChannelGetSettings, nil, &s)
	return s, err
}

func (a *API) SetSettings(ctx context.Context, partial config.PartialSettings) (config.Settings, error) {
	var s config.Settings
	err := a.client.Call(ctx, ChannelSetSettings, partial, &s)
	return s, err
}

func (a *API) GetSources(ctx context.Context) ([]CaptureSource, error) {
	var sources []CaptureSource
	err := a.client.Call(ctx, ChannelGetSources, nil, &sources)
	return sources, err
}

// SaveRecording returns the path the host wrote the payload to. Payloads
// over the part size are uploaded in order and then saved in one command.
func (a *API) SaveRecording(ctx context.Context, payload []byte, timestamp string) (string, error) {
	req := SaveRecordingRequest{Timestamp: timestamp}

	if len(payload) <= a.partSize {
		req.Payload = payload
	} else {
		req.Upload = uuid.NewString()
		for i, off := 0, 0; off < len(payload); i, off = i+1, off+a.partSize {
			part := SaveRecordingPart{
				Upload: req.Upload,
				Index:  i,
				Data:   payload[off:min(off+a.partSize, len(payload))],
			}
			if err := a.client.Call(ctx, ChannelSaveRecordingPart, part, nil); err != nil {
				return "", err
			}
		}
	}

	var path string
	err := a.client.Call(ctx, ChannelSaveRecording, req, &path)
	return path, err
}

// OnLogMessage subscribes to host log events.
func (a *API) OnLogMessage(fn func(LogEntry)) *Subscription {
	return a.client.Subscribe(ChannelLogMessage, func(raw json.RawMessage) {
		var entry LogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			slog.Warn("Ignoring malformed log event", "error", err)
			return
		}
		fn(entry)
	})
}

// SendLog reports an interface-side log line to the host.
func (a *API) SendLog(level LogLevel, message string) error {
	return a.client.Emit(ChannelLogMessage, NewLogEntry(level, message))
}
