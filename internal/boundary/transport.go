package boundary

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Transport moves frames between the two processes. Recv blocks until a frame
// arrives or the transport is closed, in which case it returns ErrClosed.
type Transport interface {
	Send(msg Message) error
	Recv() (Message, error)
	Close() error
}

// contextSender is implemented by transports that can abandon a blocked send
// without leaving a partial frame behind.
type contextSender interface {
	SendContext(ctx context.Context, msg Message) error
}

const pipeBuffer = 64

// Pipe returns two connected in-memory endpoints. Closing either one closes both.
func Pipe() (Transport, Transport) {
	ab := make(chan Message, pipeBuffer)
	ba := make(chan Message, pipeBuffer)
	shared := &pipeState{done: make(chan struct{})}

	return &pipeEnd{in: ba, out: ab, state: shared}, &pipeEnd{in: ab, out: ba, state: shared}
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	in    <-chan Message
	out   chan<- Message
	state *pipeState
}

func (p *pipeEnd) Send(msg Message) error {
	return p.SendContext(context.Background(), msg)
}

func (p *pipeEnd) SendContext(ctx context.Context, msg Message) error {
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}

	select {
	case p.out <- msg:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv() (Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.state.done:
		return Message{}, ErrClosed
	}
}

func (p *pipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}

// MaxFrameSize is the default bound on a single JSON line of a stream
// transport. Recordings larger than SavePartSize are sent in parts, so no
// legitimate frame comes near it.
const MaxFrameSize = 256 << 20

// headerPeek is how much of an oversized frame is kept to recover its routing fields.
const headerPeek = 4 << 10

// StreamOption configures NewStreamTransport.
type StreamOption func(*streamTransport)

// WithMaxFrameSize overrides MaxFrameSize for both directions.
func WithMaxFrameSize(n int) StreamOption {
	return func(s *streamTransport) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

type streamTransport struct {
	reader   *bufio.Reader
	closer   io.Closer
	maxFrame int

	writeMu sync.Mutex
	w       io.Writer

	closeOnce sync.Once
	closeErr  error
}

// NewStreamTransport frames messages as newline-delimited JSON over r and w.
// closer may be nil when the caller owns the underlying streams.
func NewStreamTransport(r io.Reader, w io.Writer, closer io.Closer, opts ...StreamOption) Transport {
	s := &streamTransport{
		reader:   bufio.NewReaderSize(r, 64*1024),
		closer:   closer,
		maxFrame: MaxFrameSize,
		w:        w,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send refuses frames over the size limit without writing anything, so the
// stream stays usable.
func (s *streamTransport) Send(msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(raw)+1 > s.maxFrame {
		return &FrameTooLargeError{Type: msg.Type, ID: msg.ID, Channel: msg.Channel, Size: len(raw) + 1, Limit: s.maxFrame}
	}
	raw = append(raw, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.w.Write(raw); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Recv returns the next frame. Malformed and oversized frames are consumed
// and reported as errors other than ErrClosed; the next Recv continues with
// the following line.
func (s *streamTransport) Recv() (Message, error) {
	for {
		line, err := s.readLine()
		if len(line) > 0 {
			var msg Message
			if jerr := json.Unmarshal(line, &msg); jerr != nil {
				return Message{}, fmt.Errorf("malformed frame: %w", jerr)
			}
			return msg, nil
		}
		if err != nil {
			return Message{}, err
		}
	}
}

// readLine returns one frame without its newline. Blank lines come back empty.
func (s *streamTransport) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if len(line)+len(chunk) > s.maxFrame {
			return nil, s.discard(append(line, chunk...), err)
		}
		line = append(line, chunk...)

		switch {
		case err == nil:
			return bytes.TrimRight(line, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case len(line) > 0 && errors.Is(err, io.EOF):
			// last frame without a trailing newline
			return line, nil
		}
		return nil, closedError(err)
	}
}

// discard skips the rest of an oversized line and describes it.
func (s *streamTransport) discard(seen []byte, err error) error {
	tooLarge := peekHeader(seen)
	tooLarge.Size = len(seen)
	tooLarge.Limit = s.maxFrame

	for errors.Is(err, bufio.ErrBufferFull) {
		var chunk []byte
		chunk, err = s.reader.ReadSlice('\n')
		tooLarge.Size += len(chunk)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return closedError(err)
	}
	return tooLarge
}

func closedError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

// peekHeader reads the routing fields from the start of a frame. They are
// encoded ahead of the payload, so a truncated prefix is enough.
func peekHeader(prefix []byte) *FrameTooLargeError {
	if len(prefix) > headerPeek {
		prefix = prefix[:headerPeek]
	}

	h := &FrameTooLargeError{}
	dec := json.NewDecoder(bytes.NewReader(prefix))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return h
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return h
		}
		key, _ := tok.(string)

		var field any
		switch key {
		case "type":
			field = &h.Type
		case "id":
			field = &h.ID
		case "channel":
			field = &h.Channel
		default:
			return h
		}
		if dec.Decode(field) != nil {
			return h
		}
	}
	return h
}

func (s *streamTransport) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}
