// Package tui implements "dispatchd monitor": a compact table view of
// bucket occupancy alongside a scrolling event log, for operators who
// want a single tmux pane rather than the full watch dashboard in
// internal/tui/watch.
package tui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/dispatchd/internal/events"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

type childRow struct {
	pid          int
	bucket       string
	identifier   string
	status       string
	startedAt    time.Time
	endedAt      time.Time
}

type Model struct {
	apiURL   string
	apiToken string

	width  int
	height int

	children  map[int]*childRow
	eventLog  []events.Event
	hubEvents chan events.Event

	health struct {
		Status         string
		UptimeSeconds  int64
		BucketsTracked int
		ChildrenActive int
	}

	childTable table.Model

	mu sync.Mutex
}

type eventMsg events.Event
type healthMsg struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	BucketsTracked int    `json:"buckets_tracked"`
	ChildrenActive int    `json:"children_active"`
}
type errMsg error

// NewMonitor creates a monitor model that talks to the admin API at
// apiURL, authenticating with apiToken.
func NewMonitor(apiURL, apiToken string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Bucket", Width: 20},
			{Title: "PID", Width: 8},
			{Title: "Identifier", Width: 20},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:     apiURL,
		apiToken:   apiToken,
		children:   make(map[int]*childRow),
		eventLog:   make([]events.Event, 0),
		hubEvents:  make(chan events.Event, 100),
		childTable: t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribeToEvents(),
		m.receiveNextEvent(),
		m.pollHealth(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.childTable.SetWidth(m.width - 6)

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.BucketsTracked = msg.BucketsTracked
		m.health.ChildrenActive = msg.ChildrenActive
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return m.fetchHealth()
		})

	case errMsg:
		// Surfacing errors here would need a status line; the header
		// already shows DEGRADED once /healthz stops answering.
		m.health.Status = "unreachable"
	}

	m.childTable, cmd = m.childTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > 50 {
		m.eventLog = m.eventLog[:50]
	}

	var p struct {
		PID        int    `json:"pid"`
		Bucket     string `json:"bucket"`
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(e.Data, &p); err != nil || p.PID == 0 {
		return
	}

	switch e.Type {
	case "forked":
		m.children[p.PID] = &childRow{
			pid:        p.PID,
			bucket:     p.Bucket,
			identifier: p.Identifier,
			status:     "running",
			startedAt:  time.Now(),
		}
	case "exited", "timeout", "respawn":
		if row, ok := m.children[p.PID]; ok {
			row.status = e.Type
			row.endedAt = time.Now()
		}
	}
}

func (m *Model) updateTable() {
	var rows []table.Row
	pids := make([]int, 0, len(m.children))
	for pid := range m.children {
		pids = append(pids, pid)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(pids)))

	for _, pid := range pids {
		rows = append(rows, m.rowFor(m.children[pid]))
	}
	m.childTable.SetRows(rows)
}

func (m *Model) rowFor(c *childRow) table.Row {
	statusSym := "◉"
	switch c.status {
	case "running":
		statusSym = statusRunning.Render("◉")
	case "exited":
		statusSym = statusOK.Render("●")
	case "timeout", "respawn":
		statusSym = statusFailed.Render("◑")
	}

	end := c.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	duration := end.Sub(c.startedAt).Round(time.Millisecond).String()

	return table.Row{
		statusSym,
		c.bucket,
		fmt.Sprintf("%d", c.pid),
		c.identifier,
		duration,
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	childrenView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Children"),
			m.childTable.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Children")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			header,
			childrenView,
			eventsView,
			help,
		),
	)
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	if m.health.Status != "ok" && m.health.Status != "" {
		status = statusFailed.Render("DEGRADED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Buckets: %d", m.health.BucketsTracked),
		fmt.Sprintf("Children: %d", m.health.ChildrenActive),
	}

	colWidth := (m.width - 4) / 4
	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(colWidth).Render(items[0]),
			lipgloss.NewStyle().Width(colWidth).Render(items[1]),
			lipgloss.NewStyle().Width(colWidth).Render(items[2]),
			lipgloss.NewStyle().Width(colWidth).Render(items[3]),
		),
	)
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-8s | %s", ts, e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func (m Model) subscribeToEvents() tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{}
		req, err := http.NewRequest("GET", m.apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+m.apiToken)

		resp, err := client.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var dataLine string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "data: "):
				dataLine = line[6:]
			case line == "" && dataLine != "":
				var ev events.Event
				if err := json.Unmarshal([]byte(dataLine), &ev); err == nil {
					m.hubEvents <- ev
				}
				dataLine = ""
			}
		}
		return nil
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.hubEvents)
	}
}

func (m Model) pollHealth() tea.Cmd {
	return func() tea.Msg {
		return m.fetchHealth()
	}
}

func (m Model) fetchHealth() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest("GET", m.apiURL+"/healthz", nil)
	if err != nil {
		return errMsg(err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiToken)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
