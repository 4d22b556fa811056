package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Client is the interface end of the boundary. Events are delivered on a
// dedicated goroutine in the order the host sent them, so an event callback
// may itself issue commands.
type Client struct {
	transport Transport

	mu      sync.Mutex
	pending map[string]chan Message
	closed  bool

	subsMu sync.Mutex
	subs   map[string]*Registry[json.RawMessage]

	queueMu sync.Mutex
	queue   []Message
	wake    chan struct{}

	done       chan struct{}
	dispatched chan struct{}
}

func NewClient(t Transport) *Client {
	c := &Client{
		transport:  t,
		pending:    make(map[string]chan Message),
		subs:       make(map[string]*Registry[json.RawMessage]),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		dispatched: make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatchLoop()
	return c
}

// Call sends a command and decodes the response into out, which may be nil.
// If ctx ends while a stream transport is still writing the command, the
// transport is closed: the peer has stopped reading and the frame can no
// longer be completed.
func (c *Client) Call(ctx context.Context, channel string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", channel, err)
	}

	id := uuid.NewString()
	reply := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(ctx, Message{Type: KindRequest, ID: id, Channel: channel, Payload: raw}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		// a reply may have raced the shutdown
		select {
		case resp := <-reply:
			return decodeResponse(resp, out)
		default:
			return ErrClosed
		}
	case resp := <-reply:
		return decodeResponse(resp, out)
	}
}

func (c *Client) send(ctx context.Context, msg Message) error {
	if cs, ok := c.transport.(contextSender); ok {
		return cs.SendContext(ctx, msg)
	}

	sent := make(chan error, 1)
	go func() { sent <- c.transport.Send(msg) }()

	select {
	case err := <-sent:
		return err
	case <-ctx.Done():
		select {
		case <-sent:
		default:
			c.transport.Close()
		}
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func decodeResponse(resp Message, out any) error {
	if resp.Error != "" {
		return &RemoteError{Channel: resp.Channel, Message: resp.Error}
	}
	if out == nil || len(resp.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", resp.Channel, err)
	}
	return nil
}

// Emit sends a fire-and-forget event to the host.
func (c *Client) Emit(channel string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", channel, err)
	}
	return c.transport.Send(Message{Type: KindEvent, Channel: channel, Payload: raw})
}

// Subscribe registers fn for host events on channel.
func (c *Client) Subscribe(channel string, fn func(json.RawMessage)) *Subscription {
	c.subsMu.Lock()
	reg, ok := c.subs[channel]
	if !ok {
		reg = &Registry[json.RawMessage]{}
		c.subs[channel] = reg
	}
	c.subsMu.Unlock()
	return reg.Subscribe(fn)
}

// Done is closed once the transport has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close shuts the transport down and waits for the event dispatcher to drain.
// It must not be called from an event callback.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.shutdown()
	<-c.dispatched
	return err
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Client) readLoop() {
	defer c.shutdown()

	for {
		msg, err := c.transport.Recv()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			var tooLarge *FrameTooLargeError
			if errors.As(err, &tooLarge) && tooLarge.Type == KindResponse {
				c.deliver(Message{Type: KindResponse, ID: tooLarge.ID, Channel: tooLarge.Channel, Error: err.Error()})
				continue
			}
			slog.Warn("Dropping unreadable frame", "error", err)
			continue
		}

		switch msg.Type {
		case KindResponse:
			c.deliver(msg)
		case KindEvent:
			c.enqueue(msg)
		}
	}
}

func (c *Client) deliver(resp Message) {
	c.mu.Lock()
	reply, ok := c.pending[resp.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case reply <- resp:
	default:
		slog.Debug("Dropping duplicate response", "channel", resp.Channel, "id", resp.ID)
	}
}

func (c *Client) enqueue(msg Message) {
	c.queueMu.Lock()
	c.queue = append(c.queue, msg)
	c.queueMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) dispatchLoop() {
	defer close(c.dispatched)

	for {
		select {
		case <-c.wake:
			c.drain()
		case <-c.done:
			c.drain()
			c.subsMu.Lock()
			for _, reg := range c.subs {
				reg.Close()
			}
			c.subsMu.Unlock()
			return
		}
	}
}

func (c *Client) drain() {
	for {
		c.queueMu.Lock()
		if len(c.queue) == 0 {
			c.queueMu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.queueMu.Unlock()

		c.subsMu.Lock()
		reg := c.subs[msg.Channel]
		c.subsMu.Unlock()
		if reg != nil {
			reg.Notify(msg.Payload)
		}
	}
}
