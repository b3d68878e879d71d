package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/gamevox/internal/admin"
)

func newExtractCmd(e *env) *cobra.Command {
	var (
		vocabulary []string
		withLLM    bool
	)
	cmd := &cobra.Command{
		Use:   "extract TEXT...",
		Short: "Parse text into a vocabulary command",
		Long: `Run the command extractor on TEXT exactly as the server does on a
transcript. The vocabulary comes from the config unless --vocab is given.
The language model stage runs only with --llm.

Examples:
  gamevoxctl extract "jump"
  gamevoxctl extract --vocab jump,duck "uh duck duck"
  gamevoxctl extract --llm "could you hop over that"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, err := e.extractor(vocabulary, withLLM)
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			p, err := admin.New(nil, ext).Extract(cmd.Context(), text)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !p.Found() {
				fmt.Fprintf(out, "%s %s\n", warnStyle.Render("no command"), dimStyle.Render("(stage "+p.Stage.String()+")"))
				return nil
			}
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("command:   "), successStyle.Render(p.Command))
			fmt.Fprintf(out, "%s %.2f\n", labelStyle.Render("confidence:"), p.Confidence)
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("stage:     "), p.Stage)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&vocabulary, "vocab", nil, "comma-separated vocabulary overriding the config")
	cmd.Flags().BoolVar(&withLLM, "llm", false, "enable the configured language model stage")
	return cmd
}
