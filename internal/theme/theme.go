// Package theme holds the lipgloss styles used by the command-line output.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsort/internal/drift"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
)

// HeaderStyle is used for section headers.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// PathStyle renders taxonomy paths.
var PathStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue)

// MutedStyle is used for secondary details such as dates and ids.
var MutedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// TagStyle renders own tags; InheritedTagStyle renders inherited ones.
var (
	TagStyle          = lipgloss.NewStyle().Foreground(ColorGreen)
	InheritedTagStyle = lipgloss.NewStyle().Foreground(ColorGray).Italic(true)
)

// NewBadge marks unclassified messages not shown before.
var NewBadge = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorMagenta).
	Padding(0, 1).
	Render("NEW")

// ResultStyle returns a color-coded style for a run outcome.
func ResultStyle(result string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch result {
	case "ok":
		return base.Foreground(ColorGreen)
	case "skipped":
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorRed)
	}
}

// DriftStyle returns a color-coded style for a drift reason.
func DriftStyle(r drift.Reason) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch r {
	case drift.ReasonMissingRoot:
		return base.Foreground(ColorBlue)
	case drift.ReasonStructure:
		return base.Foreground(ColorYellow)
	case drift.ReasonTags:
		return base.Foreground(ColorMagenta)
	default:
		return base.Foreground(ColorGray)
	}
}
