package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

func newLiveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "live FILE",
		Short: "Start an HLS session and keep it running until interrupted",
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

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			session, err := svc.derivative.StartLive(runCtx, abs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:  %s\n", session.ID)
			fmt.Fprintf(out, "Playlist: %s\n", session.MasterPlaylist)
			fmt.Fprintln(out, "Press Ctrl+C to stop")

			select {
			case <-runCtx.Done():
			case <-session.Task.Done():
				if err := session.Task.Err(); err != nil {
					return err
				}
				fmt.Fprintln(out, "Encoder finished")
			}
			return nil
		},
	}
}
