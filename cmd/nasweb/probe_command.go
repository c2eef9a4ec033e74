package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"nas-web/internal/probe"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "probe FILE",
		Short: "List the streams of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			svc, err := newServices(cfg, false)
			if err != nil {
				return err
			}
			defer svc.close()

			list, err := svc.derivative.Streams(cmd.Context(), "cli", abs)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, list)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", abs)
			if list.Duration > 0 {
				fmt.Fprintf(out, "Duration: %s", time.Duration(list.Duration*float64(time.Second)).Round(time.Second))
				if list.BitRate > 0 {
					fmt.Fprintf(out, "  Bitrate: %s/s", humanize.SI(float64(list.BitRate), "b"))
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Kind", "Codec", "Size", "FPS", "Bitrate", "Language", "Title"},
				streamRows(list),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the stream list as JSON")
	return cmd
}

func streamRows(list *probe.StreamList) [][]string {
	rows := make([][]string, 0, len(list.Streams))
	for _, s := range list.Streams {
		size, fps, rate := "", "", ""
		if s.Kind == probe.KindVideo {
			size = fmt.Sprintf("%dx%d", s.Width, s.Height)
			if f, ok := s.FrameRate(); ok {
				fps = strconv.FormatFloat(f, 'f', 3, 64)
			}
		}
		if br := s.SourceBitrate(); br > 0 {
			rate = humanize.SI(float64(br), "b/s")
		}
		kind := string(s.Kind)
		if s.IsImageSubtitle() {
			kind += " (image)"
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Index),
			kind,
			s.CodecName,
			size,
			fps,
			rate,
			s.Language(),
			s.Title(),
		})
	}
	return rows
}
