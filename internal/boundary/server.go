package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// HandlerFunc answers one command. The returned value is marshaled as the
// response payload; a non-nil error rejects the command.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Server is the host end of the boundary. Commands are handled one at a time
// in arrival order.
type Server struct {
	transport Transport

	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	listeners map[string]*Registry[json.RawMessage]
}

func NewServer(t Transport) *Server {
	return &Server{
		transport: t,
		handlers:  make(map[string]HandlerFunc),
		listeners: make(map[string]*Registry[json.RawMessage]),
	}
}

// Handle registers h for a command channel, replacing any previous handler.
func (s *Server) Handle(channel string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[channel] = h
}

// OnEvent subscribes to events sent by the interface side.
func (s *Server) OnEvent(channel string, fn func(json.RawMessage)) *Subscription {
	s.mu.Lock()
	reg, ok := s.listeners[channel]
	if !ok {
		reg = &Registry[json.RawMessage]{}
		s.listeners[channel] = reg
	}
	s.mu.Unlock()
	return reg.Subscribe(fn)
}

// Emit publishes an event to the interface side.
func (s *Server) Emit(channel string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", channel, err)
	}
	return s.transport.Send(Message{Type: KindEvent, Channel: channel, Payload: raw})
}

// Serve reads frames until the transport closes or ctx is cancelled.
// It returns nil on an orderly shutdown.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.transport.Close() })
	defer stop()

	for {
		msg, err := s.transport.Recv()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			var tooLarge *FrameTooLargeError
			if errors.As(err, &tooLarge) && tooLarge.Type == KindRequest && tooLarge.ID != "" {
				slog.Warn("Rejecting oversized command", "channel", tooLarge.Channel, "size", tooLarge.Size)
				s.reply(Message{Type: KindResponse, ID: tooLarge.ID, Channel: tooLarge.Channel, Error: err.Error()})
				continue
			}
			slog.Warn("Dropping unreadable frame", "error", err)
			continue
		}

		switch msg.Type {
		case KindRequest:
			s.dispatch(ctx, msg)
		case KindEvent:
			s.mu.RLock()
			reg := s.listeners[msg.Channel]
			s.mu.RUnlock()
			if reg != nil {
				reg.Notify(msg.Payload)
			}
		default:
			slog.Debug("Ignoring frame", "type", msg.Type, "channel", msg.Channel)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Message) {
	s.mu.RLock()
	h, ok := s.handlers[req.Channel]
	s.mu.RUnlock()

	resp := Message{Type: KindResponse, ID: req.ID, Channel: req.Channel}

	if !ok {
		resp.Error = fmt.Sprintf("%v: %s", ErrUnknownChannel, req.Channel)
	} else if result, err := h(ctx, req.Payload); err != nil {
		resp.Error = err.Error()
	} else if raw, err := json.Marshal(result); err != nil {
		resp.Error = fmt.Sprintf("failed to encode response: %v", err)
	} else {
		resp.Payload = raw
	}

	s.reply(resp)
}

func (s *Server) reply(resp Message) {
	err := s.transport.Send(resp)
	var tooLarge *FrameTooLargeError
	if errors.As(err, &tooLarge) {
		// the caller must still hear back
		err = s.transport.Send(Message{Type: KindResponse, ID: resp.ID, Channel: resp.Channel, Error: err.Error()})
	}
	if err != nil && !errors.Is(err, ErrClosed) {
		slog.Error("Failed to send response", "channel", resp.Channel, "error", err)
	}
}

// Close shuts the transport down. Pending calls on the other side fail with ErrClosed.
func (s *Server) Close() error {
	s.mu.Lock()
	for _, reg := range s.listeners {
		reg.Close()
	}
	s.mu.Unlock()
	return s.transport.Close()
}

// Bind adapts a typed function into a HandlerFunc.
func Bind[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req Req
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("invalid request: %w", err)
			}
		}
		return fn(ctx, req)
	}
}
