package console

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/screenslate/screenslate/internal/boundary"
	"github.com/screenslate/screenslate/internal/service"
)

// Feed carries service callbacks into the running program. Notices that
// arrive before the program starts are held and shown once it does.
type Feed struct {
	mu      sync.Mutex
	program *tea.Program
	pending []tea.Msg
}

func NewFeed() *Feed {
	return &Feed{}
}

// Notice matches service.NoticeFunc.
func (f *Feed) Notice(level boundary.LogLevel, message string) {
	f.send(noticeMsg{level: level, text: message})
}

// LogEntry matches service.Options.OnLog. The program rereads the log from
// the service, so entries before start need not be held.
func (f *Feed) LogEntry(boundary.LogEntry) {
	f.send(logMsg{})
}

func (f *Feed) send(msg tea.Msg) {
	f.mu.Lock()
	p := f.program
	if p == nil {
		if _, ok := msg.(logMsg); !ok {
			f.pending = append(f.pending, msg)
		}
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	p.Send(msg)
}

func (f *Feed) attach(p *tea.Program) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.program = p
}

func (f *Feed) detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.program = nil
}

// backlog hands the held notices to the program. Used as a tea.Cmd.
func (f *Feed) backlog() tea.Msg {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil
	}
	msgs := f.pending
	f.pending = nil
	return backlogMsg(msgs)
}

// Run shows the console until the user quits or ctx is done.
func Run(ctx context.Context, svc service.Service, feed *Feed, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(New(ctx, svc, feed), opts...)

	feed.attach(p)
	defer feed.detach()

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("console failed: %w", err)
	}
	return nil
}
