package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"nas-web/internal/transcoder"
)

func newTranscodeCommand(ctx *commandContext) *cobra.Command {
	var hardSub []string

	cmd := &cobra.Command{
		Use:   "transcode FILE TARGET_DIR",
		Short: "Export a video to MP4",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := parseHardSub(hardSub)
			if err != nil {
				return err
			}
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			target, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}

			svc, err := newServices(cfg, false)
			if err != nil {
				return err
			}
			defer svc.close()

			start := time.Now()
			job, err := svc.derivative.Transcode(cmd.Context(), abs, target, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Writing %s (pid %d)\n", job.OutputPath, job.Task.PID())

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				if _, ok := <-sigChan; ok {
					_ = job.Task.Terminate()
				}
			}()

			out, err := job.Wait(cmd.Context())
			if err != nil {
				return err
			}
			if st, err := os.Stat(out); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Done: %s (%s) in %s\n",
					out, humanize.Bytes(uint64(st.Size())), time.Since(start).Round(time.Second))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&hardSub, "hardsub", nil, "Subtitle stream indices to burn into the video")
	return cmd
}

// parseHardSub turns "--hardsub 3,4" into per-stream options.
func parseHardSub(values []string) (transcoder.Options, error) {
	opts := make(transcoder.Options, len(values))
	for _, v := range values {
		idx, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid subtitle stream index %q", v)
		}
		opts[idx] = transcoder.StreamOptions{HardSub: true}
	}
	return opts, nil
}
