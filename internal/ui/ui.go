// Package ui provides styled terminal output, recreating the teacher's
// missing internal/ui package (referenced by cmd/bd but not present in
// this retrieval slice) in the same spirit: a small set of semantic
// renderers (accent, pass, warn, fail) built on lipgloss, width-aware
// via golang.org/x/term, and inert when output isn't a terminal.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// IsTTY reports whether fd is attached to a terminal. Renderers degrade
// to plain text when it is not, so piped output stays script-friendly.
func IsTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// StdoutIsTTY is IsTTY(os.Stdout.Fd()), the common case every renderer
// below checks.
func StdoutIsTTY() bool {
	return IsTTY(os.Stdout.Fd())
}

func render(style lipgloss.Style, s string) string {
	if !StdoutIsTTY() {
		return s
	}
	return style.Render(s)
}

// RenderAccent highlights a value the user should notice but that is
// neither good nor bad news on its own — a repo name, a binding path.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass marks a successful outcome.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn marks a recoverable or advisory condition — rate limited,
// needs reauth, op superseded.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail marks a hard failure.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderDim marks secondary detail — timestamps, counts, IDs — that
// should recede visually behind the primary line.
func RenderDim(s string) string { return render(dimStyle, s) }

// TerminalWidth returns the current terminal width, or fallback when
// stdout is not a terminal or the width cannot be determined.
func TerminalWidth(fallback int) int {
	if !StdoutIsTTY() {
		return fallback
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
