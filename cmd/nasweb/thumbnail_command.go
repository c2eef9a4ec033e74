package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"nas-web/internal/derivative"
)

func newThumbnailCommand(ctx *commandContext) *cobra.Command {
	var (
		sizeFlag string
		output   string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "thumbnail FILE",
		Short: "Render a PNG thumbnail of an image, document or video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			size, err := derivative.ParseThumbnailSize(sizeFlag, cfg.ThumbnailMaxSize)
			if err != nil {
				return err
			}
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Base(abs) + "." + strconv.Itoa(size) + ".png"
			}

			svc, err := newServices(cfg, false)
			if err != nil {
				return err
			}
			defer svc.close()

			runCtx, cancel := waitTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			thumb, err := svc.derivative.Thumbnail(runCtx, "cli", abs, size)
			if err != nil {
				return err
			}
			if thumb == nil {
				return fmt.Errorf("no thumbnail could be produced for %s", abs)
			}
			if err := os.WriteFile(output, thumb.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s) in %s\n",
				output, thumb.Mime, humanize.Bytes(uint64(len(thumb.Data))), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sizeFlag, "size", "s", "", "Bounding box edge in pixels (default 500)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <name>.<size>.png)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long (0 disables)")
	return cmd
}
