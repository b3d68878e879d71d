package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primary = lipgloss.Color("#00ff9f")
	dim     = lipgloss.Color("#6e7681")
	warn    = lipgloss.Color("#ffb86c")
	bad     = lipgloss.Color("#ff5555")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primary)
	labelStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(dim)
	successStyle = lipgloss.NewStyle().Foreground(primary)
	warnStyle    = lipgloss.NewStyle().Foreground(warn)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(bad)
)

// newTable returns a rounded table with a highlighted header row.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(primary)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return titleStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}
