package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/rotator/internal/application"
)

type RenderOptions struct {
	Now time.Time
}

func renderView(statuses []application.Status, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Account Pool"),
		s.header.Render(fmt.Sprintf("accounts: %d", len(statuses))),
	}

	if len(statuses) == 0 {
		lines = append(lines, s.empty.Render("No accounts configured."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, status := range statuses {
		lines = append(lines, s.section.Render(renderAccount(status, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderAccount(status application.Status, opts RenderOptions, s styles) string {
	parts := []string{
		renderTitle(status, s),
		metricLine("health", status.HealthScore, status.MaxHealthScore, s),
		metricLine("tokens", status.Tokens, status.MaxTokens, s),
	}

	if detail := detailLine(status, opts, s); detail != "" {
		parts = append(parts, detail)
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderTitle(status application.Status, s styles) string {
	title := fmt.Sprintf("account %d (%s)", status.Index, shortID(string(status.ID)))
	style := s.account
	if status.Active {
		title += " *"
		style = s.active
	}

	rendered := style.Render(title)
	if status.RateLimitedFor > 0 {
		rendered += " " + s.warning.Render(fmt.Sprintf("[rate limited %s]", formatDuration(status.RateLimitedFor)))
	} else if !status.Usable {
		rendered += " " + s.warning.Render("[degraded]")
	}

	return rendered
}

func metricLine(name string, value, max float64, s styles) string {
	label := s.metricKey.Render(fmt.Sprintf("%-7s", name+":"))
	bar := renderProgressBar(value, max, 24, s)
	meta := s.metricMeta.Render(fmt.Sprintf("%.0f/%.0f", value, max))

	return lipgloss.JoinHorizontal(lipgloss.Top, label, " ", bar, " ", meta)
}

func detailLine(status application.Status, opts RenderOptions, s styles) string {
	details := make([]string, 0, 3)

	if status.LastUsed.IsZero() {
		details = append(details, "never used")
	} else if !opts.Now.IsZero() {
		details = append(details, fmt.Sprintf("last used %s ago", formatDuration(opts.Now.Sub(status.LastUsed))))
	}

	if !status.HasAccessToken {
		details = append(details, "no access token")
	} else if status.TokenExpiresIn > 0 {
		details = append(details, fmt.Sprintf("token expires in %s", formatDuration(status.TokenExpiresIn)))
	}

	if status.ConsecutiveFailures > 0 {
		details = append(details, fmt.Sprintf("%d consecutive failures", status.ConsecutiveFailures))
	}

	if len(details) == 0 {
		return ""
	}

	return s.detail.Render(strings.Join(details, ", "))
}

func renderProgressBar(value, max float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	fraction := 0.0
	if max > 0 {
		fraction = value / max
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	filled := int(math.Round(float64(width) * fraction))
	if filled > width {
		filled = width
	}

	fillSegment := s.barFill.Render(strings.Repeat("=", filled))
	emptySegment := s.barEmpty.Render(strings.Repeat("-", width-filled))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fillSegment,
		emptySegment,
		s.barBracket.Render("]"),
	)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(math.Ceil(d.Seconds())))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(math.Ceil(d.Minutes())))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(math.Ceil(d.Hours())))
	default:
		return fmt.Sprintf("%dd", int(math.Ceil(d.Hours()/24)))
	}
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
