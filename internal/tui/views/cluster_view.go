package views

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/steadyq-io/steadyq/internal/tui/styles"
)

// ClusterHealth mirrors the JSON shape returned by the control plane's
// /health endpoint, polled from the TUI rather than the cluster process
// itself.
type ClusterHealth struct {
	NodeID              string  `json:"node_id"`
	Region              string  `json:"region"`
	NodeState           string  `json:"node_state"`
	RPS                 float64 `json:"rps"`
	ErrorRatePct        float64 `json:"error_rate_pct"`
	Workers             int     `json:"workers"`
	MemoryMB            float64 `json:"memory_mb"`
	TotalMemoryMB       float64 `json:"total_memory_mb"`
	CPUPct              float64 `json:"cpu_pct"`
	TimeRemainingSecs   float64 `json:"time_remaining_secs"`
	TestStartedAtUnix   int64   `json:"test_started_at_unix"`
	TestDurationSecs    float64 `json:"test_duration_secs"`
	TestPercentComplete float64 `json:"test_percent_complete"`
}

type clusterHealthMsg struct {
	health ClusterHealth
	err    error
}

// ClusterView polls one node's control-plane /health endpoint and renders
// its snapshot as rows of MakeCard cards.
type ClusterView struct {
	Addr       string
	Health     ClusterHealth
	Err        error
	LastPolled time.Time
	client     *http.Client

	Width  int
	Height int
}

func MakeCard(title, value string) string {
	return styles.Box.Width(18).Align(lipgloss.Center).Render(
		fmt.Sprintf("%s\n%s", styles.Subtle.Render(title), value),
	)
}

func NewClusterView(addr string, width, height int) ClusterView {
	return ClusterView{
		Addr:   addr,
		client: &http.Client{Timeout: 2 * time.Second},
		Width:  width,
		Height: height,
	}
}

func pollClusterHealth(addr string, client *http.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.Get(strings.TrimRight(addr, "/") + "/health")
		if err != nil {
			return clusterHealthMsg{err: err}
		}
		defer resp.Body.Close()

		var h ClusterHealth
		if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
			return clusterHealthMsg{err: err}
		}
		return clusterHealthMsg{health: h}
	}
}

type clusterTickMsg struct{}

func clusterTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg { return clusterTickMsg{} })
}

func (m ClusterView) Init() tea.Cmd {
	return tea.Batch(pollClusterHealth(m.Addr, m.client), clusterTick())
}

func (m ClusterView) Update(msg tea.Msg) (ClusterView, tea.Cmd) {
	switch msg := msg.(type) {
	case clusterTickMsg:
		return m, tea.Batch(pollClusterHealth(m.Addr, m.client), clusterTick())
	case clusterHealthMsg:
		m.LastPolled = time.Now()
		m.Err = msg.err
		if msg.err == nil {
			m.Health = msg.health
		}
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func (m ClusterView) View() string {
	s := strings.Builder{}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		styles.Title.Render("⚡ Cluster Node Status"),
		lipgloss.NewStyle().MarginLeft(2).Foreground(styles.ColorSubtle).Render(m.Addr),
	)
	s.WriteString(header)
	s.WriteString("\n\n")

	if m.Err != nil {
		s.WriteString(styles.Error.Render(fmt.Sprintf("unreachable: %v", m.Err)))
		return s.String()
	}

	h := m.Health
	stateStyle := styles.Text
	switch h.NodeState {
	case "Leader":
		stateStyle = styles.Success
	case "Standby":
		stateStyle = styles.Warn
	case "Forming":
		stateStyle = styles.Subtle
	}

	row1 := lipgloss.JoinHorizontal(lipgloss.Top,
		MakeCard("Node", styles.Value.Render(h.NodeID)),
		MakeCard("Region", styles.Text.Render(h.Region)),
		MakeCard("State", stateStyle.Render(h.NodeState)),
		MakeCard("Workers", styles.Value.Render(fmt.Sprintf("%d", h.Workers))),
	)
	s.WriteString(row1)
	s.WriteString("\n")

	errColor := styles.Text
	if h.ErrorRatePct > 1.0 {
		errColor = styles.Error
	}
	row2 := lipgloss.JoinHorizontal(lipgloss.Top,
		MakeCard("RPS", styles.Value.Render(fmt.Sprintf("%.1f", h.RPS))),
		MakeCard("Error Rate", errColor.Render(fmt.Sprintf("%.2f%%", h.ErrorRatePct))),
		MakeCard("Memory", styles.Text.Render(fmt.Sprintf("%.0f / %.0f MB", h.MemoryMB, h.TotalMemoryMB))),
		MakeCard("CPU", styles.Text.Render(fmt.Sprintf("%.1f%%", h.CPUPct))),
	)
	s.WriteString(row2)
	s.WriteString("\n")

	row3 := lipgloss.JoinHorizontal(lipgloss.Top,
		MakeCard("Progress", styles.Active.Render(fmt.Sprintf("%.0f%%", h.TestPercentComplete))),
		MakeCard("Remaining", styles.Text.Render(fmt.Sprintf("%.0fs", h.TimeRemainingSecs))),
		MakeCard("Duration", styles.Text.Render(fmt.Sprintf("%.0fs", h.TestDurationSecs))),
	)
	s.WriteString(row3)
	s.WriteString("\n\n")
	s.WriteString(styles.Subtle.Render("last polled " + m.LastPolled.Format(time.RFC3339)))

	return s.String()
}
