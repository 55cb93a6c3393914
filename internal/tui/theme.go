package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// SheetLink terminal palette. Dark surfaces with an amber accent so the
// dashboard reads like a lamp over a character sheet.
var (
	// Core colors
	ColorBackground   = lipgloss.Color("#0f0f0f")
	ColorSurface      = lipgloss.Color("#161616")
	ColorSurfaceLight = lipgloss.Color("#1d1d1d")
	ColorBorder       = lipgloss.Color("#2a2a2a")

	// Accent (Amber)
	ColorAccent    = lipgloss.Color("#e0a422")
	ColorAccentDim = lipgloss.Color("#6e5110")

	// Semantic colors
	ColorSuccess = lipgloss.Color("#30d158")
	ColorWarning = lipgloss.Color("#ffd60a")
	ColorError   = lipgloss.Color("#ff453a")
	ColorInfo    = lipgloss.Color("#64d2ff")

	// Text colors
	ColorTextPrimary   = lipgloss.Color("#ffffff")
	ColorTextSecondary = lipgloss.Color("#d0d0d0")
	ColorTextMuted     = lipgloss.Color("#808080")
)

// Theme contains all styled components
type Theme struct {
	// Base styles
	Card lipgloss.Style

	// Header styles
	HeaderContainer lipgloss.Style
	Logo            lipgloss.Style
	LogoDot         lipgloss.Style

	// Tab styles
	TabContainer lipgloss.Style
	TabActive    lipgloss.Style
	TabInactive  lipgloss.Style

	// Footer styles
	FooterContainer lipgloss.Style

	// Content styles
	Title         lipgloss.Style
	Label         lipgloss.Style
	Value         lipgloss.Style
	ValueMuted    lipgloss.Style
	StatusSuccess lipgloss.Style
	StatusError   lipgloss.Style
	StatusWarning lipgloss.Style
	StatusInfo    lipgloss.Style

	// List styles
	ListItemActive lipgloss.Style
	ListCursor     lipgloss.Style

	// Misc
	Help    lipgloss.Style
	HelpKey lipgloss.Style
	Spinner lipgloss.Style
}

// NewTheme creates the SheetLink themed styles
func NewTheme() *Theme {
	t := &Theme{}

	t.Card = lipgloss.NewStyle().
		Background(ColorSurface).
		Padding(1, 2).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	// Header styles
	t.HeaderContainer = lipgloss.NewStyle().
		Background(ColorSurface).
		Padding(0, 2).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(ColorBorder)

	t.Logo = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorTextPrimary)

	t.LogoDot = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true)

	// Tab styles
	t.TabContainer = lipgloss.NewStyle().
		Background(ColorSurface).
		Padding(0, 2)

	t.TabActive = lipgloss.NewStyle().
		Background(ColorAccent).
		Foreground(ColorBackground).
		Bold(true).
		Padding(0, 2).
		MarginRight(1)

	t.TabInactive = lipgloss.NewStyle().
		Background(ColorSurfaceLight).
		Foreground(ColorTextSecondary).
		Padding(0, 2).
		MarginRight(1)

	// Footer styles
	t.FooterContainer = lipgloss.NewStyle().
		Background(ColorSurface).
		Padding(0, 2).
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(ColorBorder)

	// Content styles
	t.Title = lipgloss.NewStyle().
		Foreground(ColorTextPrimary).
		Bold(true).
		MarginBottom(1)

	t.Label = lipgloss.NewStyle().
		Foreground(ColorTextSecondary)

	t.Value = lipgloss.NewStyle().
		Foreground(ColorTextPrimary)

	t.ValueMuted = lipgloss.NewStyle().
		Foreground(ColorTextMuted)

	t.StatusSuccess = lipgloss.NewStyle().
		Foreground(ColorSuccess)

	t.StatusError = lipgloss.NewStyle().
		Foreground(ColorError)

	t.StatusWarning = lipgloss.NewStyle().
		Foreground(ColorWarning)

	t.StatusInfo = lipgloss.NewStyle().
		Foreground(ColorInfo)

	// List styles
	t.ListItemActive = lipgloss.NewStyle().
		Background(ColorAccentDim).
		Foreground(ColorTextPrimary).
		Padding(0, 1)

	t.ListCursor = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true)

	// Misc styles
	t.Help = lipgloss.NewStyle().
		Foreground(ColorTextMuted)

	t.HelpKey = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true)

	t.Spinner = lipgloss.NewStyle().
		Foreground(ColorAccent)

	return t
}

// DefaultTheme is the global theme instance
var DefaultTheme = NewTheme()

// StatusDot returns a colored status indicator dot
func StatusDot(ok bool) string {
	if ok {
		return DefaultTheme.StatusSuccess.Render("●")
	}
	return DefaultTheme.StatusError.Render("●")
}
