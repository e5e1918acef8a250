package cli

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/gzhole/replyshield/internal/guardrail"
)

const defaultWidth = 60

// styles renders command output. Colours are dropped when w is not a
// terminal.
type styles struct {
	title  lipgloss.Style
	rule   lipgloss.Style
	pass   lipgloss.Style
	warn   lipgloss.Style
	block  lipgloss.Style
	dim    lipgloss.Style
	key    lipgloss.Style
	border lipgloss.Style
	width  int
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:  r.NewStyle().Bold(true),
		rule:   r.NewStyle().Foreground(lipgloss.Color("240")),
		pass:   r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		warn:   r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		block:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		dim:    r.NewStyle().Foreground(lipgloss.Color("245")),
		key:    r.NewStyle().Foreground(lipgloss.Color("39")).Width(16),
		border: r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1),
		width:  terminalWidth(w),
	}
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 || width > defaultWidth+20 {
		return defaultWidth
	}
	return width
}

func (s styles) header(title string) string {
	line := strings.Repeat("═", s.width)
	return s.rule.Render(line) + "\n  " + s.title.Render(title) + "\n" + s.rule.Render(line)
}

func (s styles) section(title string) string {
	fill := s.width - len([]rune(title)) - 5
	if fill < 3 {
		fill = 3
	}
	return s.rule.Render("─── ") + s.title.Render(title) + " " + s.rule.Render(strings.Repeat("─", fill))
}

// action renders a pipeline action with its colour.
func (s styles) action(a guardrail.Action) string {
	switch a {
	case guardrail.ActionPass:
		return s.pass.Render(string(a))
	case guardrail.ActionSanitize, guardrail.ActionNeedMinInfoForTool:
		return s.warn.Render(string(a))
	}
	return s.block.Render(string(a))
}

func (s styles) row(key, value string) string {
	return "  " + s.key.Render(key) + " " + value
}

func (s styles) box(content string) string {
	return s.border.Width(s.width - 2).Render(content)
}

func (s styles) actionText(a string) string {
	return s.action(guardrail.Action(a))
}
