package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)

	root := &cobra.Command{
		Use:           "transcoder",
		Short:         "Derive streaming variants from source media",
		Long:          "transcoder queues, encodes and publishes derivative variants of source assets.\nRun transcoderd (or `transcoder daemon`) to work the queue continuously.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to transcoder.toml")

	root.AddGroup(
		&cobra.Group{ID: "jobs", Title: "Job commands:"},
		&cobra.Group{ID: "setup", Title: "Setup commands:"},
	)
	for _, cmd := range []*cobra.Command{
		newEnqueueCommand(ctx),
		newRunCommand(ctx),
		newStatusCommand(ctx),
		newResetCommand(ctx),
		newDaemonCommand(ctx),
	} {
		cmd.GroupID = "jobs"
		root.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{
		newVariantsCommand(ctx),
		newDepsCommand(ctx),
		newConfigCommand(ctx),
	} {
		cmd.GroupID = "setup"
		root.AddCommand(cmd)
	}
	return root
}
