package main

import (
	"github.com/spf13/cobra"

	"aisio/internal/daemonrun"
	"aisio/internal/transport"
)

func newRunCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newRoleCommand(ctx, transport.RoleServer, "serve", "Listen for peers and dispatch their events"),
		newRoleCommand(ctx, transport.RoleClient, "connect", "Connect to a controller and dispatch its events"),
	}
}

func newRoleCommand(ctx *commandContext, role transport.Role, use, short string) *cobra.Command {
	var logLevel string
	var development bool
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if role == transport.RoleServer {
				if cmd.Flags().Changed("port") {
					cfg.Server.Port = port
				}
				if cmd.Flags().Changed("host") {
					cfg.Server.Host = host
				}
			} else {
				if cmd.Flags().Changed("port") {
					cfg.Client.Port = port
				}
				if cmd.Flags().Changed("host") {
					cfg.Client.Host = host
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				Role:        role,
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for this run")
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in logs")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override the configured port")
	cmd.Flags().StringVar(&host, "host", "", "Override the configured host")
	return cmd
}
