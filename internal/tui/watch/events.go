package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/dispatchd/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case "exited":
		typeStyle = theme.StatusOK
	case "timeout":
		typeStyle = theme.StatusFailed
	case "forked":
		typeStyle = theme.StatusRunning
	case "respawn":
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-8s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	var payload struct {
		PID          int    `json:"pid"`
		ForkSequence uint64 `json:"fork_sequence"`
		Bucket       string `json:"bucket"`
		Identifier   string `json:"identifier"`
		Detail       string `json:"detail"`
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	var parts []string
	if payload.Bucket != "" {
		parts = append(parts, payload.Bucket)
	}
	if payload.PID != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", payload.PID))
	}
	if payload.Identifier != "" {
		parts = append(parts, payload.Identifier)
	}
	if payload.Detail != "" {
		parts = append(parts, payload.Detail)
	}
	if len(parts) == 0 {
		return string(e.Data)
	}
	return strings.Join(parts, " ")
}
