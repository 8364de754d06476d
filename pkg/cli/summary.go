package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for terminal output.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/help text color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Value:  lipgloss.NewStyle(),
		Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Primary).Padding(0, 1),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// Field is one label/value line.
type Field struct {
	Label string
	Value string
}

// Section groups fields under a heading.
type Section struct {
	Label  string
	Fields []Field
}

// Summary is a boxed report printed after a command finishes.
type Summary struct {
	Styles   Styles
	Title    string
	Status   string
	Sections []Section
}

// Render renders the summary. Labels within a section are aligned.
func (s Summary) Render() string {
	var lines []string
	head := s.Styles.Title.Render(s.Title)
	if s.Status != "" {
		head += " " + s.Styles.Help.Render("["+s.Status+"]")
	}
	lines = append(lines, head)

	for _, sec := range s.Sections {
		lines = append(lines, "", s.Styles.Label.Render(sec.Label))
		width := 0
		for _, f := range sec.Fields {
			width = max(width, lipgloss.Width(f.Label))
		}
		for _, f := range sec.Fields {
			pad := strings.Repeat(" ", width-lipgloss.Width(f.Label))
			lines = append(lines, "  "+s.Styles.Help.Render(f.Label+pad)+"  "+s.Styles.Value.Render(f.Value))
		}
	}
	return s.Styles.Border.Render(strings.Join(lines, "\n"))
}
