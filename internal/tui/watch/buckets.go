package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/dispatchd/internal/events"
)

// BucketState tracks one bucket's live occupancy, rebuilt entirely
// from the forked/exited/timeout/respawn event stream rather than a
// separate poll — the event log is the bucket's ground truth here.
type BucketState struct {
	ID          string
	ActiveChild map[int]*ChildState // keyed by pid
	LastKind    string
	LastSeen    time.Time
}

// ChildState tracks one forked child currently occupying a bucket
// slot.
type ChildState struct {
	PID          int
	ForkSequence uint64
	Identifier   string
	StartedAt    time.Time
}

type childEventPayload struct {
	PID          int    `json:"pid"`
	ForkSequence uint64 `json:"fork_sequence"`
	Bucket       string `json:"bucket"`
	Identifier   string `json:"identifier"`
	Detail       string `json:"detail"`
}

// updateBucketState folds one event into the bucket occupancy map.
func updateBucketState(buckets map[string]*BucketState, e events.Event) {
	var p childEventPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.Bucket == "" {
		return
	}

	b, ok := buckets[p.Bucket]
	if !ok {
		b = &BucketState{ID: p.Bucket, ActiveChild: make(map[int]*ChildState)}
		buckets[p.Bucket] = b
	}
	b.LastKind = e.Type
	b.LastSeen = time.Now()

	switch e.Type {
	case "forked":
		b.ActiveChild[p.PID] = &ChildState{
			PID:          p.PID,
			ForkSequence: p.ForkSequence,
			Identifier:   p.Identifier,
			StartedAt:    time.Now(),
		}
	case "exited", "timeout", "respawn":
		delete(b.ActiveChild, p.PID)
	}
}

func sortedBucketIDs(buckets map[string]*BucketState) []string {
	ids := make([]string, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func renderBuckets(buckets map[string]*BucketState, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(buckets) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("BUCKETS"),
			theme.Dim.Render("  No bucket activity yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	ids := sortedBucketIDs(buckets)
	var lines []string
	for i, id := range ids {
		lines = append(lines, renderBucketRow(i+1, buckets[id], i == selected, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("BUCKETS")}, lines...)...,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderBucketRow(num int, b *BucketState, isSelected bool, theme Theme) string {
	activeCount := len(b.ActiveChild)

	var statusStr string
	if activeCount > 0 {
		statusStr = theme.StatusRunning.Render(fmt.Sprintf("[%d active]", activeCount))
	} else {
		statusStr = theme.Dim.Render("[idle]")
	}

	var lastStr string
	if !b.LastSeen.IsZero() {
		ago := time.Since(b.LastSeen).Round(time.Second)
		lastStr = fmt.Sprintf("last: %s (%s ago)", b.LastKind, ago)
	}

	nameStyle := lipgloss.NewStyle()
	if isSelected {
		nameStyle = nameStyle.Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	}

	var line strings.Builder
	line.WriteString(fmt.Sprintf(" %d. %s  %s  %s",
		num,
		nameStyle.Render(fmt.Sprintf("%-24s", b.ID)),
		statusStr,
		theme.Dim.Render(lastStr),
	))

	if activeCount > 0 {
		ids := make([]int, 0, activeCount)
		for pid := range b.ActiveChild {
			ids = append(ids, pid)
		}
		sort.Ints(ids)
		for _, pid := range ids {
			c := b.ActiveChild[pid]
			duration := time.Since(c.StartedAt).Round(time.Millisecond)
			line.WriteString(fmt.Sprintf("\n    └─ pid %d: %s %s",
				c.PID, theme.Highlight.Render(c.Identifier), theme.Dim.Render(duration.String())))
		}
	}

	return line.String()
}
