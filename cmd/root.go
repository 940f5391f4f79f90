package cmd

import (
	"github.com/spf13/cobra"
	"testimonial-recorder/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "testimonial-recorder",
		Short:         "record doctor video testimonials in uploaded segments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(record(config))
	rootCmd.AddCommand(cleanup(config))
	return rootCmd
}
