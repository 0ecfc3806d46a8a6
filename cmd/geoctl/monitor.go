package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/lawbranch/geogate/internal/monitor"
)

var (
	// monitor command flags
	monMetricsURL string
	monInterval   time.Duration
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&monMetricsURL, "metrics-url", "http://localhost:9090", "Prometheus-compatible query API URL")
	monitorCmd.Flags().DurationVar(&monInterval, "interval", 5*time.Second, "Refresh interval")
}

// monitorCmd opens the live pipeline dashboard
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch live pipeline metrics in a terminal dashboard",
	Long: `Open a terminal dashboard over the daemon's Prometheus metrics:
analyze throughput, run latency, decision split, per-stage latency,
LLM token spend, and memory store growth.

Requires a Prometheus server scraping geogated's /metrics endpoint.

Examples:
  # Watch the local daemon
  geoctl monitor

  # Point at a remote Prometheus with a faster refresh
  geoctl monitor --metrics-url http://prom.internal:9090 --interval 2s`,
	RunE: runMonitor,
}

// runMonitor handles the monitor command
func runMonitor(cmd *cobra.Command, args []string) error {
	model := monitor.NewModel(monMetricsURL, monInterval)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
