package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/MrWong99/gamevox/internal/admin"
	"github.com/MrWong99/gamevox/internal/identify"
	"github.com/MrWong99/gamevox/pkg/audio"
)

func newIdentifyCmd(e *env) *cobra.Command {
	var (
		modeName string
		top      int
	)
	cmd := &cobra.Command{
		Use:   "identify FILE.wav",
		Short: "Rank enrolled speakers against a recording",
		Long: `Score a WAV recording against every enrolled speaker with the
configured voiceprint extractor and thresholds. Useful for checking why a
player is reported as unknown, or whether two speakers sound too alike.

The recording is downmixed and resampled to 16 kHz mono first.

Examples:
  gamevoxctl identify clip.wav
  gamevoxctl identify --mode gameplay --top 3 clip.wav`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := identify.ParseMode(modeName)
			if err != nil {
				return err
			}
			samples, err := readClip(args[0])
			if err != nil {
				return err
			}

			reg, id, err := e.identifier(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if reg.Len() == 0 {
				fmt.Fprintln(out, dimStyle.Render("no speakers enrolled"))
				return nil
			}

			svc := admin.New(reg, nil, admin.WithRanker(id))
			ms, err := svc.Identify(cmd.Context(), samples, audio.DefaultSampleRate, mode, top)
			if err != nil {
				return err
			}

			t := newTable("#", "Name", "Similarity", "Match")
			for i, m := range ms {
				verdict := dimStyle.Render("no")
				if m.Confidence > 0 {
					verdict = successStyle.Render("yes")
				}
				t.Row(strconv.Itoa(i+1), m.Name, fmt.Sprintf("%.3f", m.Similarity), verdict)
			}
			fmt.Fprintln(out, t.Render())
			fmt.Fprintf(out, "%s %s above %.2f\n", labelStyle.Render("mode:"), mode, id.Threshold(mode))
			return nil
		},
	}
	cmd.Flags().StringVar(&modeName, "mode", "general", `threshold to apply ("general" or "gameplay")`)
	cmd.Flags().IntVar(&top, "top", 5, "number of speakers to show; 0 shows all")
	return cmd
}

// readClip loads a WAV file as 16 kHz mono.
func readClip(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	samples, rate, err := audio.ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: no audio", path)
	}
	if rate == audio.DefaultSampleRate {
		return samples, nil
	}
	conv, err := audio.NewConverter(audio.Format{SampleRate: rate, Channels: 1}, audio.Mono16k)
	if err != nil {
		return nil, err
	}
	pcm, err := conv.Convert(audio.Float32ToInt16(samples))
	if err != nil {
		return nil, err
	}
	return audio.Int16ToFloat32(pcm), nil
}
