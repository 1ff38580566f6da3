// Package display renders robot status for terminals: a lipgloss panel
// and a bubbletea model that keeps it current.
package display

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/status"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(10)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	healthColors = map[status.Health]lipgloss.Color{
		status.Healthy:  "10",
		status.Degraded: "11",
		status.Failed:   "9",
	}
	outcomeColors = map[command.OutcomeKind]lipgloss.Color{
		command.Executed: "10",
		command.Answered: "14",
		command.Rejected: "9",
	}
)

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func healthBadge(h status.Health) string {
	return lipgloss.NewStyle().Foreground(healthColors[h]).Bold(true).Render(string(h))
}

// Panel renders st as a bordered panel width columns wide. Zero width
// lets the content decide.
func Panel(st status.RobotState, width int) string {
	var lines []string

	lines = append(lines, titleStyle.Render("HEY SPIDER")+"  "+healthBadge(st.Overall()))
	lines = append(lines, "")
	lines = append(lines, row("mode", strings.ToUpper(orDash(st.Mode))))
	lines = append(lines, row("command", orDash(st.LastCommand)))
	if o := st.LastOutcome; o != nil {
		style := lipgloss.NewStyle().Foreground(outcomeColors[o.Kind])
		lines = append(lines, row("outcome", style.Render(o.Summary())))
	}
	dist := "-"
	if st.Distance > 0 {
		dist = fmt.Sprintf("%.0f cm", st.Distance)
	}
	lines = append(lines, row("distance", dist))
	lines = append(lines, row("camera", fmt.Sprintf("%.1f fps", st.FPS)))
	lines = append(lines, row("sees", st.Detections.Describe()))
	if st.Thought != "" {
		lines = append(lines, row("thinking", fmt.Sprintf("%q (%s)", st.Thought, st.Emotion)))
	}
	if st.LastPhoto != "" {
		lines = append(lines, row("photo", st.LastPhoto))
	}

	if len(st.Health) > 0 {
		lines = append(lines, "")
		names := make([]string, 0, len(st.Health))
		for name := range st.Health {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			h := st.Health[name]
			v := healthBadge(h.Status)
			if h.Detail != "" {
				v += " " + dimStyle.Render(h.Detail)
			}
			lines = append(lines, row(name, v))
		}
	}

	if !st.UpdatedAt.IsZero() {
		lines = append(lines, "", dimStyle.Render("updated "+st.UpdatedAt.Format(time.TimeOnly)))
	}

	box := boxStyle
	if width > 4 {
		box = box.Width(width - 2)
	}
	return box.Render(strings.Join(lines, "\n"))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
