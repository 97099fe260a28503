// Package output renders a single download's progress and summary to
// a terminal, styled with lipgloss.
package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))   // green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))   // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))  // yellow
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))  // cyan
	debugStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250")) // light grey
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
)

var symbols = map[string]string{
	"pass":   "✓",
	"fail":   "✗",
	"bullet": "•",
	"hline":  "━",
}

func PrintSuccess(text string) { fmt.Println(successStyle.Render(text)) }
func PrintError(text string)   { fmt.Println(errorStyle.Render(text)) }
func PrintWarning(text string) { fmt.Println(warningStyle.Render(text)) }
func PrintInfo(text string)    { fmt.Println(infoStyle.Render(text)) }
func PrintHeader(text string)  { fmt.Println(headerStyle.Render(text)) }

// FormatBytes renders a byte count in the smallest human-readable
// unit, e.g. "4.20 MB".
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed renders a bytes-per-second rate.
func FormatSpeed(bytesPerSecond float64) string {
	formatted := FormatBytes(uint64(bytesPerSecond))
	return formatted[:len(formatted)-1] + "B/s"
}

// ProgressBar renders a fixed-width bar plus percentage label.
func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := symbols["bullet"] + strings.Repeat(symbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += symbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%%", bar, percent*100))
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
