package cmd

import (
	"github.com/spf13/cobra"
	"testimonial-recorder/config"
	server2 "testimonial-recorder/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start the recorder control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunHttp(config)
		},
	}
}
