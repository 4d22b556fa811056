package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/screenslate/screenslate/internal/boundary"
	"github.com/screenslate/screenslate/internal/session"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	recordingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	activeBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	inactiveBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("8")).
				Padding(0, 1)

	boxTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	boxTitleDimStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("8"))
)

const (
	sourcesWidth  = 48
	settingsWidth = 36
	fullWidth     = sourcesWidth + settingsWidth + 3
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("ScreenSlate"))
	b.WriteString(dimStyle.Render(" - screen recorder"))
	b.WriteString("\n\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		m.box(panelSources, " Sources ", m.renderSources(), sourcesWidth),
		" ",
		m.box(panelSettings, " Settings ", m.renderSettings(), settingsWidth),
	))
	b.WriteString("\n")

	b.WriteString(inactiveBoxStyle.Width(fullWidth).Render(
		boxTitleDimStyle.Render(" Status ") + "\n" + m.renderStatus(),
	))
	b.WriteString("\n")

	logsTitle := " Logs "
	if m.autoScroll {
		logsTitle += "(auto-scroll) "
	} else {
		logsTitle += "(paused) "
	}
	b.WriteString(m.box(panelLogs, logsTitle, m.renderLogs(), fullWidth))
	b.WriteString("\n")

	if m.notice.text != "" {
		b.WriteString(noticeStyle(m.notice.level).Render(m.notice.text))
		b.WriteString("\n")
	}

	if m.commandMode {
		b.WriteString(promptStyle.Render(":"))
		b.WriteString(m.command)
		b.WriteString(dimStyle.Render("_"))
	} else {
		b.WriteString(m.renderHelp())
	}

	return b.String()
}

func (m Model) box(p panel, title, content string, width int) string {
	if m.focus == p {
		return activeBoxStyle.Width(width).Render(boxTitleStyle.Render(title) + "\n" + content)
	}
	return inactiveBoxStyle.Width(width).Render(boxTitleDimStyle.Render(title) + "\n" + content)
}

func (m Model) renderSources() string {
	if len(m.sources) == 0 {
		return dimStyle.Render("No sources, press r to refresh")
	}

	var b strings.Builder
	for i, s := range m.sources {
		cursor := "  "
		if m.focus == panelSources && i == m.sourceCursor {
			cursor = "> "
		}

		label := fmt.Sprintf("[%d] %s", i+1, truncate(s.Name, sourcesWidth-12))
		isSelected := s.ID == m.status.SourceID

		switch {
		case isSelected:
			b.WriteString(selectedStyle.Render(cursor + label))
			b.WriteString(dimStyle.Render(" *"))
		case m.focus == panelSources && i == m.sourceCursor:
			b.WriteString(normalStyle.Render(cursor + label))
		default:
			b.WriteString(dimStyle.Render(cursor + label))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderSettings() string {
	mic := "off"
	if m.settings.MicEnabled {
		mic = "on"
	}
	rows := [settingCount][2]string{
		settingFPS: {"Frame rate", fmt.Sprintf("%d fps", m.settings.FPS)},
		settingDir: {"Output dir", truncate(m.settings.OutputDir, settingsWidth-18)},
		settingMic: {"Microphone", mic},
	}

	var b strings.Builder
	for i, row := range rows {
		cursor := "  "
		if m.focus == panelSettings && i == m.settingsCursor {
			cursor = "> "
		}
		b.WriteString(cursor)
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-11s", row[0])))
		b.WriteString(" ")
		b.WriteString(normalStyle.Render(row[1]))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderStatus() string {
	var b strings.Builder

	switch m.status.State {
	case session.StateRecording:
		b.WriteString(recordingStyle.Render("● REC"))
	case session.StateFinalizing:
		b.WriteString(warnStyle.Render("Saving"))
	case session.StateArmed:
		b.WriteString(selectedStyle.Render("Ready"))
	default:
		b.WriteString(dimStyle.Render("Idle"))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf(" (%s)", m.status.State)))
	b.WriteString("  ")

	b.WriteString(labelStyle.Render("Elapsed: "))
	b.WriteString(normalStyle.Render(FormatElapsed(m.status.Elapsed)))
	b.WriteString("  ")

	b.WriteString(labelStyle.Render("Size: "))
	b.WriteString(normalStyle.Render(formatBytes(int64(m.status.Bytes))))
	b.WriteString("  ")

	b.WriteString(labelStyle.Render("Source: "))
	if m.status.SourceID == "" {
		b.WriteString(dimStyle.Render("none"))
	} else {
		b.WriteString(normalStyle.Render(truncate(m.sourceName(m.status.SourceID), 30)))
	}

	if m.status.Interrupted {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("Capture stopped unexpectedly, press s to save what was recorded"))
	}
	if m.pending != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(m.pending))
	}
	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
	}
	return b.String()
}

func (m Model) renderLogs() string {
	if len(m.logs) == 0 {
		return dimStyle.Render("No logs yet")
	}

	end := min(m.logTop+m.logRows(), len(m.logs))
	var b strings.Builder
	for _, e := range m.logs[m.logTop:end] {
		line := truncate(FormatLogEntry(e), fullWidth-4)
		switch e.Level {
		case boundary.LevelError:
			b.WriteString(errorStyle.Render(line))
		case boundary.LevelWarn:
			b.WriteString(warnStyle.Render(line))
		default:
			b.WriteString(normalStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderHelp() string {
	var parts []string

	parts = append(parts, "tab panel")
	parts = append(parts, "↑/↓ move")
	parts = append(parts, "enter select")

	if m.status.State == session.StateRecording {
		parts = append(parts, "s stop")
	} else {
		parts = append(parts, "s record")
	}

	parts = append(parts, "r refresh")
	parts = append(parts, "m mic")
	parts = append(parts, "+/- fps")
	parts = append(parts, "a auto-scroll")
	parts = append(parts, "c clear logs")
	parts = append(parts, ": command")
	parts = append(parts, "q quit")

	return helpStyle.Render(strings.Join(parts, " • "))
}

func noticeStyle(level boundary.LogLevel) lipgloss.Style {
	switch level {
	case boundary.LevelError:
		return errorStyle
	case boundary.LevelWarn:
		return warnStyle
	}
	return labelStyle
}
