package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/gamevox/internal/admin"
)

func newSpeakersCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speakers",
		Short: "Manage enrolled speaker profiles",
	}
	cmd.AddCommand(
		newSpeakersListCmd(e),
		newSpeakersRemoveCmd(e),
		newSpeakersClearCmd(e),
		newSpeakersExportCmd(e),
		newSpeakersImportCmd(e),
	)
	return cmd
}

func newSpeakersListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enrolled speakers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			ps, err := svc.Speakers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ps) == 0 {
				fmt.Fprintln(out, dimStyle.Render("no speakers enrolled"))
				return nil
			}

			players := map[string]string{}
			if cfg, err := e.config(); err == nil {
				for name, slot := range cfg.Players {
					players[strings.ToLower(name)] = slot
				}
			}

			t := newTable("#", "Name", "Player", "Enrolled", "Dims")
			for i, p := range ps {
				slot := players[strings.ToLower(p.Name)]
				if slot == "" {
					slot = "-"
				}
				t.Row(strconv.Itoa(i+1), p.Name, slot, p.CreatedAt.Local().Format(time.DateTime), strconv.Itoa(len(p.Embedding)))
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
}

func newSpeakersRemoveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete a speaker profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.RemoveSpeaker(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("removed "+args[0]))
			return nil
		},
	}
}

func newSpeakersClearCmd(e *env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear --yes",
		Short: "Delete every speaker profile",
		Long: `Delete every enrolled speaker. Export first if the voiceprints may be
needed again; enrollment has to be repeated otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear speakers without --yes")
			}
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svc.ClearSpeakers(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("cleared %d speakers", n)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting all speakers")
	return cmd
}

func newSpeakersExportCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "export FILE",
		Short: `Write all profiles to a JSON file ("-" for stdout)`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}

			path := args[0]
			var w io.Writer = cmd.OutOrStdout()
			if path != "-" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := svc.Export(cmd.Context(), w)
			if err != nil {
				return err
			}
			if path != "-" {
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("exported %d speakers to %s", n, path)))
			}
			return nil
		},
	}
}

func newSpeakersImportCmd(e *env) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: `Add profiles from an export file ("-" for stdin)`,
		Long: `Add profiles from a file written by "speakers export".

Speakers that are already enrolled are skipped unless --replace is given,
in which case their voiceprint is overwritten in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			res, err := svc.Import(cmd.Context(), r, replace)
			printImport(cmd.OutOrStdout(), res)
			return err
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite voiceprints of speakers that already exist")
	return cmd
}

func printImport(w io.Writer, res admin.ImportResult) {
	line := func(style func(...string) string, label string, names []string) {
		if len(names) == 0 {
			return
		}
		fmt.Fprintf(w, "%s %s\n", style(fmt.Sprintf("%-9s", label)), strings.Join(names, ", "))
	}
	line(successStyle.Render, "added", res.Added)
	line(warnStyle.Render, "replaced", res.Replaced)
	line(dimStyle.Render, "skipped", res.Skipped)
	if len(res.Added)+len(res.Replaced)+len(res.Skipped) == 0 {
		fmt.Fprintln(w, dimStyle.Render("nothing to import"))
	}
}
