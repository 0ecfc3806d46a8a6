package monitor

import "fmt"

// FormatRate formats a rate value as "X.X req/min"
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.1f req/min", rate)
}

// FormatLatency formats latency in seconds as "X.Xms" or "X.Xs"
func FormatLatency(latencySeconds float64) string {
	if latencySeconds < 1.0 {
		// Convert to milliseconds
		ms := latencySeconds * 1000
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.1fs", latencySeconds)
}

// FormatTokens formats LLM token throughput as "X tok/min" or "X.XK tok/min"
func FormatTokens(tokensPerMin float64) string {
	if tokensPerMin >= 1000 {
		return fmt.Sprintf("%.1fK tok/min", tokensPerMin/1000)
	}
	return fmt.Sprintf("%.0f tok/min", tokensPerMin)
}

// FormatCount formats a counter value as "X" or "X.XK"
func FormatCount(count float64) string {
	if count >= 1000 {
		return fmt.Sprintf("%.1fK", count/1000)
	}
	return fmt.Sprintf("%.0f", count)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
