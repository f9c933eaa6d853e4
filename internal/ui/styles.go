// Package ui provides shared terminal styling for command output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderAccent styles informational markers.
func RenderAccent(s string) string {
	return accentStyle.Render(s)
}

// RenderPass styles success markers.
func RenderPass(s string) string {
	return passStyle.Render(s)
}

// RenderWarn styles warning markers.
func RenderWarn(s string) string {
	return warnStyle.Render(s)
}

// RenderFail styles error markers.
func RenderFail(s string) string {
	return failStyle.Render(s)
}

// RenderDim styles secondary detail.
func RenderDim(s string) string {
	return dimStyle.Render(s)
}
