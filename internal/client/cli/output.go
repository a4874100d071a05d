package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/iudanet/learnsync/internal/models"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
)

func statusLabel(status models.MutationStatus) string {
	label := fmt.Sprintf("%-10s", status)
	switch status {
	case models.StatusPending:
		return pendingStyle.Render(label)
	case models.StatusInFlight:
		return warnStyle.Render(label)
	case models.StatusConflicted, models.StatusFailed:
		return errorStyle.Render(label)
	default:
		return label
	}
}

// printMutation печатает одну запись outbox в одну строку
func (a *App) printMutation(m *models.Mutation) {
	line := fmt.Sprintf("%s  %s  %-6s %s", m.ID, statusLabel(m.Status), m.Operation, m.EntityKey())
	if m.Attempts > 0 {
		line += dimStyle.Render(fmt.Sprintf("  attempts=%d", m.Attempts))
	}
	if m.LastError != "" {
		line += dimStyle.Render("  " + m.LastError)
	}
	if m.Status == models.StatusPending && !m.NextAttemptAt.IsZero() && m.NextAttemptAt.After(time.Now()) {
		line += dimStyle.Render("  next=" + m.NextAttemptAt.Local().Format(time.TimeOnly))
	}
	a.io.Println(line)
}

func (a *App) printFields(title string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	data, err := json.MarshalIndent(fields, "    ", "  ")
	if err != nil {
		a.io.Printf("  %s: %v\n", title, fields)
		return
	}
	a.io.Printf("  %s:\n    %s\n", title, data)
}

func formatWatermark(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
