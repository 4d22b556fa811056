package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/screenslate/screenslate/internal/boundary"
)

// FormatLogEntry renders "HH:MM:SS.mmm [LEVEL] message" in local time.
func FormatLogEntry(e boundary.LogEntry) string {
	stamp := e.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		stamp = t.Local().Format("15:04:05.000")
	}
	return fmt.Sprintf("%s [%s] %s", stamp, strings.ToUpper(string(e.Level)), e.Message)
}

// FormatElapsed renders seconds as MM:SS.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func formatBytes(b int64) string {
	if b >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(b)/1_000_000_000)
	}
	if b >= 1_000_000 {
		return fmt.Sprintf("%.1f MB", float64(b)/1_000_000)
	}
	if b >= 1_000 {
		return fmt.Sprintf("%.1f KB", float64(b)/1_000)
	}
	return fmt.Sprintf("%d B", b)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
