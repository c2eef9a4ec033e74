package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"nas-web/internal/startup"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *startup.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*startup.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := startup.LoadConfig(path)
		if err != nil {
			c.configErr = err
			return
		}
		startup.Apply(cfg)
		c.config = cfg
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "nasweb",
		Short:         "NAS media processing core",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       startup.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newProbeCommand(ctx))
	rootCmd.AddCommand(newThumbnailCommand(ctx))
	rootCmd.AddCommand(newTranscodeCommand(ctx))
	rootCmd.AddCommand(newLiveCommand(ctx))

	return rootCmd
}
