package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	colorProfileOnce sync.Once

	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	msgStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	punctStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

func shouldPrettyPrint() bool {
	term := strings.TrimSpace(os.Getenv("TERM"))
	if term == "" || term == "dumb" {
		return false
	}
	return os.Getenv("NO_COLOR") == ""
}

func ensureColorProfile() {
	colorProfileOnce.Do(func() {
		lipgloss.SetColorProfile(termenv.TrueColor)
	})
}

func levelBadge(level slog.Level) (string, lipgloss.Style) {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch {
	case level <= slog.LevelDebug:
		return "DEBUG", base.Foreground(lipgloss.Color("255")).Background(lipgloss.Color("240"))
	case level <= slog.LevelInfo:
		return "INFO", base.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("31"))
	case level <= slog.LevelWarn:
		return "WARN", base.Foreground(lipgloss.Color("234")).Background(lipgloss.Color("214"))
	default:
		return "ERROR", base.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160"))
	}
}

// FormatEventANSI renders one event for a colour terminal. JSON-shaped field
// values are printed as boxed blocks below the header line.
func FormatEventANSI(event Event) string {
	ensureColorProfile()
	label, badge := levelBadge(event.Level)
	line := lipgloss.JoinHorizontal(lipgloss.Center,
		timeStyle.Render(event.Time.Format("15:04:05.000")),
		" ",
		badge.Render(label),
		" ",
		msgStyle.Render(event.Message),
	)
	if len(event.Fields) == 0 {
		return line + "\n"
	}

	inline := make([]string, 0, len(event.Fields))
	var blocks []string
	for _, key := range orderedFieldKeys(event.Level, event.Fields) {
		value := event.Fields[key]
		if pretty, ok := prettyJSONString(value); ok {
			blocks = append(blocks, renderJSONBlock(key, pretty))
			continue
		}
		inline = append(inline, keyStyle.Render(key)+punctStyle.Render("=")+valueStyle.Render(formatFieldValue(value)))
	}
	if len(inline) > 0 {
		line += "  " + strings.Join(inline, " ")
	}
	for _, block := range blocks {
		line += "\n  " + block
	}
	return line + "\n"
}

func renderJSONBlock(key string, pretty string) string {
	lines := strings.Split(pretty, "\n")
	for i, l := range lines {
		lines[i] = colorizeJSONLine(l)
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("245")).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
	return keyStyle.Render(key) + punctStyle.Render("=") + "\n" + box
}

func colorizeJSONLine(line string) string {
	var b strings.Builder
	inString := false
	escaped := false
	for _, r := range line {
		switch {
		case r == '"':
			b.WriteString(punctStyle.Render(`"`))
			if !escaped {
				inString = !inString
			}
			escaped = false
		case inString && r == '\\':
			b.WriteString(valueStyle.Render(`\`))
			escaped = !escaped
		case !inString && strings.ContainsRune("{}[]:,", r):
			b.WriteString(punctStyle.Render(string(r)))
			escaped = false
		case r == ' ' || r == '\t':
			b.WriteRune(r)
			escaped = false
		default:
			b.WriteString(valueStyle.Render(string(r)))
			escaped = false
		}
	}
	return b.String()
}
