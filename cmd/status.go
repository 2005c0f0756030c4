package cmd

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/steadyq-io/steadyq/internal/tui/views"
)

var statusAddr string

// statusModel adapts views.ClusterView to tea.Model.
type statusModel struct {
	view views.ClusterView
}

func (m statusModel) Init() tea.Cmd { return m.view.Init() }

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	return m, cmd
}

func (m statusModel) View() string { return m.view.View() }

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Watch a running node's /health endpoint in a live TUI",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := statusModel{view: views.NewClusterView(statusAddr, 80, 24)}
		p := tea.NewProgram(m, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Printf("Error running status view: %v\n", err)
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://127.0.0.1:8080", "control-plane base address to poll")
	rootCmd.AddCommand(statusCmd)
}
