// Package console is the terminal front end over the interface service: a
// bubbletea program with panels for sources, settings, status and logs.
package console

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/screenslate/screenslate/internal/boundary"
	"github.com/screenslate/screenslate/internal/config"
	"github.com/screenslate/screenslate/internal/service"
	"github.com/screenslate/screenslate/internal/session"
)

// Panels, in tab order
type panel int

const (
	panelSources panel = iota
	panelSettings
	panelLogs
	panelCount
)

// Rows of the settings panel
const (
	settingFPS = iota
	settingDir
	settingMic
	settingCount
)

// statusRefresh is how often the status panel rereads the session
const statusRefresh = 500 * time.Millisecond

// Messages
type tickMsg time.Time

// logMsg says the service log has grown. The entries are reread from the
// service, which appends before notifying.
type logMsg struct{}

type noticeMsg struct {
	level boundary.LogLevel
	text  string
}

type backlogMsg []tea.Msg

type sourcesMsg struct {
	sources []boundary.CaptureSource
	err     error
}

type selectedMsg struct {
	id  string
	err error
}

type settingsMsg struct {
	settings config.Settings
	err      error
}

type recordingMsg struct {
	path string
	err  error
}

// Model is the console state. Service calls that reach the host or the
// session lifecycle run as commands, off the update loop.
type Model struct {
	ctx  context.Context
	svc  service.Service
	feed *Feed

	sources        []boundary.CaptureSource
	sourceCursor   int
	settingsCursor int
	focus          panel

	settings  config.Settings
	status    session.Snapshot
	lastError string

	logs       []boundary.LogEntry
	logTop     int
	autoScroll bool

	notice  noticeMsg
	pending string

	commandMode bool
	command     string

	width    int
	height   int
	quitting bool
}

func New(ctx context.Context, svc service.Service, feed *Feed) Model {
	m := Model{
		ctx:        ctx,
		svc:        svc,
		feed:       feed,
		focus:      panelSources,
		autoScroll: true,
		width:      100,
		height:     32,
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.refreshSources(),
		m.feed.backlog,
		tick(),
		tea.SetWindowTitle("ScreenSlate"),
	)
}

func tick() tea.Cmd {
	return tea.Tick(statusRefresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh copies the service caches the panels render
func (m *Model) refresh() {
	m.sources = m.svc.Sources()
	m.settings = m.svc.Settings()
	m.status = m.svc.GetRecordingStatus()
	m.lastError = m.svc.GetLastError()
	m.setLogs(m.svc.Logs())

	if m.sourceCursor >= len(m.sources) {
		m.sourceCursor = max(0, len(m.sources)-1)
	}
}

func (m *Model) setLogs(entries []boundary.LogEntry) {
	m.logs = entries
	bottom := m.logBottom()
	if m.autoScroll || m.logTop > bottom {
		m.logTop = bottom
	}
}

// logRows is the height of the log panel for the current terminal
func (m Model) logRows() int {
	return max(4, m.height-20)
}

func (m Model) logBottom() int {
	return max(0, len(m.logs)-m.logRows())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.commandMode {
			return m.handleCommandKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.setLogs(m.logs)
		return m, nil

	case tickMsg:
		m.status = m.svc.GetRecordingStatus()
		m.lastError = m.svc.GetLastError()
		return m, tick()

	case logMsg:
		m.setLogs(m.svc.Logs())
		return m, nil

	case noticeMsg:
		m.notice = msg
		m.lastError = m.svc.GetLastError()
		return m, nil

	case backlogMsg:
		var next tea.Model = m
		for _, inner := range msg {
			next, _ = next.Update(inner)
		}
		return next, nil

	case sourcesMsg:
		m.pending = ""
		m.refresh()
		if msg.err == nil {
			m.notice = noticeMsg{boundary.LevelInfo, fmt.Sprintf("Found %d capture sources", len(msg.sources))}
		}
		return m, nil

	case selectedMsg:
		m.refresh()
		if msg.err != nil {
			m.notice = noticeMsg{boundary.LevelError, msg.err.Error()}
		} else if msg.id != "" {
			m.notice = noticeMsg{boundary.LevelInfo, "Selected " + m.sourceName(msg.id)}
		}
		return m, nil

	case settingsMsg, recordingMsg:
		// failures were already reported through the notice feed
		m.pending = ""
		m.refresh()
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		m.focus = (m.focus + 1) % panelCount
	case "shift+tab":
		m.focus = (m.focus + panelCount - 1) % panelCount

	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "pgup":
		m.scrollLogs(-m.logRows())
	case "pgdown":
		m.scrollLogs(m.logRows())
	case "end", "G":
		m.autoScroll = true
		m.logTop = m.logBottom()

	case "enter", " ":
		return m.activate()

	case "s":
		return m.toggleRecording()
	case "r":
		m.pending = "Refreshing sources..."
		return m, m.refreshSources()
	case "m":
		return m.toggleMic()
	case "+", "=":
		return m.adjustFPS(1)
	case "-":
		return m.adjustFPS(-1)

	case "a":
		m.autoScroll = !m.autoScroll
		if m.autoScroll {
			m.logTop = m.logBottom()
		}
	case "c":
		m.svc.ClearLogs()
		m.setLogs(m.svc.Logs())

	case ":":
		m.commandMode = true
		m.command = ""
	}
	return m, nil
}

func (m *Model) moveCursor(delta int) {
	switch m.focus {
	case panelSources:
		m.sourceCursor = clamp(m.sourceCursor+delta, 0, max(0, len(m.sources)-1))
	case panelSettings:
		m.settingsCursor = clamp(m.settingsCursor+delta, 0, settingCount-1)
	case panelLogs:
		m.scrollLogs(delta)
	}
}

// scrollLogs moves the log view. Leaving the bottom pauses auto-scroll and
// returning to it resumes.
func (m *Model) scrollLogs(delta int) {
	bottom := m.logBottom()
	m.logTop = clamp(m.logTop+delta, 0, bottom)
	m.autoScroll = m.logTop == bottom
}

func (m Model) activate() (tea.Model, tea.Cmd) {
	switch m.focus {
	case panelSources:
		if m.sourceCursor < len(m.sources) {
			return m, m.selectSource(m.sources[m.sourceCursor].ID)
		}
	case panelSettings:
		switch m.settingsCursor {
		case settingFPS:
			m.commandMode = true
			m.command = "set fps "
		case settingDir:
			m.commandMode = true
			m.command = "set dir " + m.settings.OutputDir
		case settingMic:
			return m.toggleMic()
		}
	}
	return m, nil
}

func (m Model) toggleRecording() (tea.Model, tea.Cmd) {
	switch m.status.State {
	case session.StateFinalizing:
		return m, nil
	case session.StateRecording:
		m.pending = "Saving recording..."
		return m, m.stopRecording()
	}
	m.pending = "Starting recording..."
	return m, m.startRecording()
}

func (m Model) toggleMic() (tea.Model, tea.Cmd) {
	enabled := !m.settings.MicEnabled
	return m, m.updateSettings(config.PartialSettings{MicEnabled: &enabled})
}

func (m Model) adjustFPS(delta int) (tea.Model, tea.Cmd) {
	fps := m.settings.FPS + delta
	if fps < config.MinFPS || fps > config.MaxFPS {
		return m, nil
	}
	return m, m.updateSettings(config.PartialSettings{FPS: &fps})
}

func (m Model) handleCommandKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyEsc:
		m.commandMode = false
		m.command = ""
	case tea.KeyEnter:
		line := m.command
		m.commandMode = false
		m.command = ""
		return m.Execute(line)
	case tea.KeyBackspace:
		if r := []rune(m.command); len(r) > 0 {
			m.command = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.command += " "
	case tea.KeyRunes:
		m.command += string(msg.Runes)
	}
	return m, nil
}

// Execute runs one command line typed after ':'.
func (m Model) Execute(line string) (Model, tea.Cmd) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return m, nil
	}

	switch fields[0] {
	case "sources":
		m.pending = "Refreshing sources..."
		return m, m.refreshSources()
	case "select":
		if len(fields) < 2 {
			m.notice = noticeMsg{boundary.LevelError, "usage: select <n|id>"}
			return m, nil
		}
		id, err := resolveSource(m.sources, fields[1])
		if err != nil {
			m.notice = noticeMsg{boundary.LevelError, err.Error()}
			return m, nil
		}
		return m, m.selectSource(id)
	case "start":
		m.pending = "Starting recording..."
		return m, m.startRecording()
	case "stop":
		m.pending = "Saving recording..."
		return m, m.stopRecording()
	case "set":
		partial, err := parseSetting(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "set")))
		if err != nil {
			m.notice = noticeMsg{boundary.LevelError, err.Error()}
			return m, nil
		}
		return m, m.updateSettings(partial)
	case "clear":
		m.svc.ClearLogs()
		m.setLogs(m.svc.Logs())
	case "autoscroll":
		m.autoScroll = len(fields) < 2 || fields[1] != "off"
		if m.autoScroll {
			m.logTop = m.logBottom()
		}
	case "help", "?":
		m.notice = noticeMsg{boundary.LevelInfo, "commands: sources, select <n|id>, start, stop, set fps|dir|mic <value>, clear, autoscroll on|off, quit"}
	case "quit", "exit":
		m.quitting = true
		return m, tea.Quit
	default:
		m.notice = noticeMsg{boundary.LevelError, fmt.Sprintf("unknown command: %s (type ':help')", fields[0])}
	}
	return m, nil
}

// resolveSource accepts a 1-based position in the source list or an id.
func resolveSource(sources []boundary.CaptureSource, arg string) (string, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg, nil
	}
	if n < 1 || n > len(sources) {
		return "", fmt.Errorf("no source number %d, press r to refresh", n)
	}
	return sources[n-1].ID, nil
}

// parseSetting reads "fps <n>", "dir <path>" or "mic on|off".
func parseSetting(args string) (config.PartialSettings, error) {
	key, value, _ := strings.Cut(args, " ")
	value = strings.TrimSpace(value)

	var partial config.PartialSettings
	switch key {
	case "fps":
		fps, err := strconv.Atoi(value)
		if err != nil {
			return partial, errors.New("fps must be a number")
		}
		partial.FPS = &fps
	case "dir":
		if value == "" {
			return partial, errors.New("usage: set dir <path>")
		}
		partial.OutputDir = &value
	case "mic":
		var enabled bool
		switch value {
		case "on":
			enabled = true
		case "off":
			enabled = false
		default:
			return partial, errors.New("usage: set mic on|off")
		}
		partial.MicEnabled = &enabled
	default:
		return partial, errors.New("usage: set fps <n> | set dir <path> | set mic on|off")
	}
	return partial, nil
}

func (m Model) refreshSources() tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		sources, err := svc.RefreshSources(ctx)
		return sourcesMsg{sources: sources, err: err}
	}
}

func (m Model) selectSource(id string) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		return selectedMsg{id: id, err: svc.SelectSource(id)}
	}
}

func (m Model) startRecording() tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		return recordingMsg{err: svc.StartRecording(ctx)}
	}
}

func (m Model) stopRecording() tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		path, err := svc.StopRecording(ctx)
		return recordingMsg{path: path, err: err}
	}
}

func (m Model) updateSettings(partial config.PartialSettings) tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		settings, err := svc.UpdateSettings(ctx, partial)
		return settingsMsg{settings: settings, err: err}
	}
}

func (m Model) sourceName(id string) string {
	for _, s := range m.sources {
		if s.ID == id {
			return s.Name
		}
	}
	return id
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
