package styles

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	NexusOrange = lipgloss.Color("#D98F40")
	DimGray     = lipgloss.Color("#6B7280")
	LightGray   = lipgloss.Color("#9CA3AF")
	White       = lipgloss.Color("#F9FAFB")
	Green       = lipgloss.Color("#10B981")
	Red         = lipgloss.Color("#EF4444")
	Yellow      = lipgloss.Color("#F59E0B")
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(White).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(LightGray)

	DimStyle = lipgloss.NewStyle().
			Foreground(DimGray)

	AccentStyle = lipgloss.NewStyle().
			Foreground(NexusOrange)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Green)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Yellow).
			Bold(true)

	BadgeStyle = lipgloss.NewStyle().
			Foreground(White).
			Background(NexusOrange).
			Padding(0, 1)
)

// Panel wraps the dashboard
var PanelStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(NexusOrange).
	Padding(1, 2)

// Help styles
var (
	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(NexusOrange)

	HelpDescStyle = lipgloss.NewStyle().
			Foreground(DimGray)
)

// SpinnerStyle colors the activity spinner
var SpinnerStyle = lipgloss.NewStyle().
	Foreground(NexusOrange)

// Truncate truncates a string to the given width with ellipsis
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}
