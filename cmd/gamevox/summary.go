package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/MrWong99/gamevox/internal/config"
)

var (
	accent     = lipgloss.Color("#00ff9f")
	bannerText = lipgloss.NewStyle().Bold(true).Foreground(accent)
	unset      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")).Render("not configured")
)

// summaryRows lists what the server is about to run with.
func summaryRows(cfg *config.Config) [][]string {
	provider := func(e config.ProviderEntry) string {
		switch {
		case e.Name == "":
			return unset
		case e.Model == "":
			return e.Name
		}
		return e.Name + " / " + e.Model
	}
	return [][]string{
		{"STT", provider(cfg.Providers.STT)},
		{"LLM", provider(cfg.Providers.LLM)},
		{"Voiceprint", provider(cfg.Providers.Voiceprint)},
		{"Fallbacks", fmt.Sprintf("%d stt, %d llm", len(cfg.Providers.STTFallbacks), len(cfg.Providers.LLMFallbacks))},
		{"Speaker store", cfg.Speakers.Backend},
		{"Commands", fmt.Sprint(len(cfg.Commands.Vocabulary))},
		{"Players", fmt.Sprint(len(cfg.Players))},
		{"Default mode", cfg.Server.DefaultMode},
		{"Join timeout", cfg.Server.JoinTimeout.String()},
		{"Listen", cfg.Server.ListenAddr},
	}
}

// printSummary writes the startup table to w.
func printSummary(w io.Writer, cfg *config.Config) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(accent)).
		StyleFunc(func(_, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if col == 0 {
				s = s.Bold(true)
			}
			return s
		}).
		Rows(summaryRows(cfg)...)
	fmt.Fprintln(w, bannerText.Render("gamevox "+version))
	fmt.Fprintln(w, t.Render())
}
