// Package monitor implements the terminal dashboard behind "geoctl monitor".
// It polls a Prometheus-compatible query API for the daemon's pipeline,
// LLM and memory store metrics and renders them with BubbleTea.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model represents the BubbleTea dashboard model
type Model struct {
	metricsURL string
	interval   time.Duration
	lastUpdate time.Time
	metrics    MetricsSnapshot
	err        error
	quitting   bool

	// Progress bars
	loadProgress   progress.Model
	reviewProgress progress.Model
}

// MetricsSnapshot holds the current metrics data
type MetricsSnapshot struct {
	AnalyzeRate    float64
	RunLatencyP95  float64
	HTTPRate       float64
	HTTPLatencyP95 float64

	// Cumulative decision counts
	DecisionYes    float64
	DecisionNo     float64
	DecisionReview float64

	// Per-stage P95 latencies in seconds
	ScreeningP95  float64
	ResearchP95   float64
	ValidationP95 float64

	// LLM and memory store metrics
	TokenRate      float64
	LLMRequestRate float64
	MemoryRecords  float64
	LearningRate   float64

	// Historical data for sparklines (last N points)
	AnalyzeRateHistory []float64
	RunLatencyHistory  []float64
	TokenRateHistory   []float64
	MemoryHistory      []float64

	// Peak values for progress bars
	AnalyzeRatePeak float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	// Header style - bright cyan background, bold black text
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	// Section title style - bold bright cyan
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	// Label style - dim cyan
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	// Value style - bright white
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - for units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	// Status styles with unicode symbols
	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// Container style - rounded border with dim gray
	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	// Footer style - bright keys on dim background
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	// Sparkline container
	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a new dashboard model
func NewModel(metricsURL string, interval time.Duration) Model {
	// Initialize progress bars with custom gradient
	loadProg := progress.New(
		progress.WithGradient("#00ffff", "#ff00ff"),
		progress.WithWidth(40),
	)

	reviewProg := progress.New(
		progress.WithGradient("#00ff00", "#ff0000"),
		progress.WithWidth(40),
	)

	return Model{
		metricsURL:     metricsURL,
		interval:       interval,
		quitting:       false,
		loadProgress:   loadProg,
		reviewProgress: reviewProg,
		metrics: MetricsSnapshot{
			AnalyzeRateHistory: make([]float64, 0, historySize),
			RunLatencyHistory:  make([]float64, 0, historySize),
			TokenRateHistory:   make([]float64, 0, historySize),
			MemoryHistory:      make([]float64, 0, historySize),
			AnalyzeRatePeak:    1.0, // Minimum peak to avoid division by zero
		},
	}
}

// getRunBadge returns a colored status badge based on end-to-end
// pipeline latency. Runs chain several LLM calls, so healthy is
// measured in tens of seconds.
func getRunBadge(latencySeconds float64) string {
	if latencySeconds < 30 {
		return healthyStyle.Render("[✓]")
	} else if latencySeconds < 90 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// getStatusBadge returns overall system status badge
func getStatusBadge(latencySeconds float64) string {
	if latencySeconds < 30 {
		return healthyStyle.Render("✓ HEALTHY")
	} else if latencySeconds < 90 {
		return warningStyle.Render("⚠ WARN")
	}
	return errorStyle.Render("✗ ERROR")
}

// getLatencyBadge returns a colored status badge based on HTTP latency
func getLatencyBadge(latencyMS float64) string {
	if latencyMS < 100 {
		return healthyStyle.Render("[✓]")
	} else if latencyMS < 500 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// getReviewBadge returns a badge based on the share of runs ending in
// REVIEW. A growing share means the analyst queue is filling up.
func getReviewBadge(share float64) string {
	if share < 0.10 {
		return healthyStyle.Render("[✓]")
	} else if share < 0.25 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type metricsMsg MetricsSnapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchMetrics(m.metricsURL),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchMetrics fetches metrics from the query API
func fetchMetrics(metricsURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := NewMetricsClient(metricsURL)

		// Core metrics fail the whole fetch so connection problems
		// surface in the error view.
		analyzeRate, err := client.QueryAnalyzeRate(ctx)
		if err != nil {
			return errMsg(err)
		}

		runLatency, err := client.QueryRunLatencyP95(ctx)
		if err != nil {
			return errMsg(err)
		}

		httpRate, err := client.QueryHTTPRate(ctx)
		if err != nil {
			return errMsg(err)
		}

		httpLatency, err := client.QueryHTTPLatencyP95(ctx)
		if err != nil {
			return errMsg(err)
		}

		// Secondary metrics degrade to zero
		decisionYes, err := client.QueryDecisionTotal(ctx, "YES")
		if err != nil {
			decisionYes = 0
		}

		decisionNo, err := client.QueryDecisionTotal(ctx, "NO")
		if err != nil {
			decisionNo = 0
		}

		decisionReview, err := client.QueryDecisionTotal(ctx, "REVIEW")
		if err != nil {
			decisionReview = 0
		}

		screeningP95, err := client.QueryStageLatencyP95(ctx, "screening")
		if err != nil {
			screeningP95 = 0
		}

		researchP95, err := client.QueryStageLatencyP95(ctx, "research")
		if err != nil {
			researchP95 = 0
		}

		validationP95, err := client.QueryStageLatencyP95(ctx, "validation")
		if err != nil {
			validationP95 = 0
		}

		tokenRate, err := client.QueryTokenRate(ctx)
		if err != nil {
			tokenRate = 0
		}

		llmRequestRate, err := client.QueryLLMRequestRate(ctx)
		if err != nil {
			llmRequestRate = 0
		}

		memoryRecords, err := client.QueryMemoryRecords(ctx)
		if err != nil {
			memoryRecords = 0
		}

		learningRate, err := client.QueryLearningRate(ctx)
		if err != nil {
			learningRate = 0
		}

		return metricsMsg{
			AnalyzeRate:    analyzeRate,
			RunLatencyP95:  runLatency,
			HTTPRate:       httpRate,
			HTTPLatencyP95: httpLatency,
			DecisionYes:    decisionYes,
			DecisionNo:     decisionNo,
			DecisionReview: decisionReview,
			ScreeningP95:   screeningP95,
			ResearchP95:    researchP95,
			ValidationP95:  validationP95,
			TokenRate:      tokenRate,
			LLMRequestRate: llmRequestRate,
			MemoryRecords:  memoryRecords,
			LearningRate:   learningRate,
		}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchMetrics(m.metricsURL)
		}

	case tickMsg:
		// Auto-refresh triggered
		return m, tea.Batch(
			tick(m.interval),
			fetchMetrics(m.metricsURL),
		)

	case metricsMsg:
		// Metrics successfully fetched - update with history
		newMetrics := MetricsSnapshot(msg)

		// Preserve historical data and update ring buffers
		newMetrics.AnalyzeRateHistory = appendToHistory(m.metrics.AnalyzeRateHistory, newMetrics.AnalyzeRate)
		newMetrics.RunLatencyHistory = appendToHistory(m.metrics.RunLatencyHistory, newMetrics.RunLatencyP95)
		newMetrics.TokenRateHistory = appendToHistory(m.metrics.TokenRateHistory, newMetrics.TokenRate)
		newMetrics.MemoryHistory = appendToHistory(m.metrics.MemoryHistory, newMetrics.MemoryRecords)

		// Update peaks
		newMetrics.AnalyzeRatePeak = m.metrics.AnalyzeRatePeak
		if newMetrics.AnalyzeRate > newMetrics.AnalyzeRatePeak {
			newMetrics.AnalyzeRatePeak = newMetrics.AnalyzeRate
		}

		m.metrics = newMetrics
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		// Error occurred
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	// Display error state if error exists
	if m.err != nil {
		return m.renderError()
	}

	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render("geogate Metrics Dashboard")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach the metrics query API") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.metricsURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. geogated is running with telemetry enabled") + "\n"
	content += dimStyle.Render("  2. Prometheus is scraping it and serving /api/v1/query") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	box := containerStyle.Render(header + "\n" + content)
	return box
}

// renderDashboard renders the main dashboard view with sparklines and progress bars
func (m Model) renderDashboard() string {
	var content string

	// Header with status badge
	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" geogate Monitor ")
	statusBadge := getStatusBadge(m.metrics.RunLatencyP95)
	headerLine := fmt.Sprintf("%s   %s %s",
		statusBadge,
		dimStyle.Render("Updated:"),
		valueStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// Pipeline section with sparklines and load progress
	content += "\n" + sectionStyle.Render("┃ Pipeline") + "\n"

	runBadge := getRunBadge(m.metrics.RunLatencyP95)

	// Analyze rate with sparkline
	analyzeSparkline := createSparkline(m.metrics.AnalyzeRateHistory)
	content += labelStyle.Render("  Analyze: ") +
		valueStyle.Render(FormatRate(m.metrics.AnalyzeRate)) +
		" " + runBadge +
		"   " + analyzeSparkline + "\n"

	// Run latency with sparkline
	latencySparkline := createSparkline(m.metrics.RunLatencyHistory)
	content += labelStyle.Render("  Run (p95): ") +
		valueStyle.Render(FormatLatency(m.metrics.RunLatencyP95)) +
		" " + runBadge +
		"   " + latencySparkline + "\n"

	// Load relative to observed peak
	ratePercent := 0.0
	if m.metrics.AnalyzeRatePeak > 0 {
		ratePercent = m.metrics.AnalyzeRate / m.metrics.AnalyzeRatePeak
		if ratePercent > 1.0 {
			ratePercent = 1.0
		}
	}
	content += labelStyle.Render("  Load: ") +
		m.loadProgress.ViewAs(ratePercent) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", ratePercent*100)) + "\n"

	// Decisions section with review share progress
	content += "\n" + sectionStyle.Render("┃ Decisions") + "\n"

	content += labelStyle.Render("  YES: ") +
		valueStyle.Render(FormatCount(m.metrics.DecisionYes)) +
		"  " + labelStyle.Render("NO: ") +
		valueStyle.Render(FormatCount(m.metrics.DecisionNo)) +
		"  " + labelStyle.Render("REVIEW: ") +
		valueStyle.Render(FormatCount(m.metrics.DecisionReview)) + "\n"

	totalDecisions := m.metrics.DecisionYes + m.metrics.DecisionNo + m.metrics.DecisionReview
	reviewShare := 0.0
	if totalDecisions > 0 {
		reviewShare = m.metrics.DecisionReview / totalDecisions
	}
	content += labelStyle.Render("  Review share: ") +
		m.reviewProgress.ViewAs(reviewShare) +
		" " + dimStyle.Render(FormatPercentage(reviewShare)) +
		" " + getReviewBadge(reviewShare) + "\n"

	// Stage latencies section
	content += "\n" + sectionStyle.Render("┃ Stages (p95)") + "\n"

	content += labelStyle.Render("  Screening: ") +
		valueStyle.Render(FormatLatency(m.metrics.ScreeningP95)) +
		"  " + labelStyle.Render("Research: ") +
		valueStyle.Render(FormatLatency(m.metrics.ResearchP95)) +
		"  " + labelStyle.Render("Validation: ") +
		valueStyle.Render(FormatLatency(m.metrics.ValidationP95)) + "\n"

	// LLM section with token sparkline
	content += "\n" + sectionStyle.Render("┃ LLM") + "\n"

	tokenSparkline := createSparkline(m.metrics.TokenRateHistory)
	content += labelStyle.Render("  Requests: ") +
		valueStyle.Render(FormatRate(m.metrics.LLMRequestRate)) +
		"  " + labelStyle.Render("Tokens: ") +
		valueStyle.Render(FormatTokens(m.metrics.TokenRate)) +
		"   " + tokenSparkline + "\n"

	// HTTP section
	content += "\n" + sectionStyle.Render("┃ HTTP") + "\n"

	httpBadge := getLatencyBadge(m.metrics.HTTPLatencyP95 * 1000)
	content += labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(m.metrics.HTTPRate)) +
		"  " + labelStyle.Render("Latency (p95): ") +
		valueStyle.Render(FormatLatency(m.metrics.HTTPLatencyP95)) +
		" " + httpBadge + "\n"

	// Memory store section with record sparkline
	content += "\n" + sectionStyle.Render("┃ Memory") + "\n"

	memorySparkline := createSparkline(m.metrics.MemoryHistory)
	content += labelStyle.Render("  Records: ") +
		valueStyle.Render(FormatCount(m.metrics.MemoryRecords)) +
		"  " + labelStyle.Render("Learned: ") +
		valueStyle.Render(fmt.Sprintf("%.1f rec/min", m.metrics.LearningRate)) +
		"   " + memorySparkline + "\n"

	// Footer with keyboard shortcuts
	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	// Wrap in container
	return containerStyle.Render(content)
}
