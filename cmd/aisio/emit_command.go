package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aisio/internal/wire"
)

func newEmitCommand(ctx *commandContext) *cobra.Command {
	var connID string
	var all bool

	cmd := &cobra.Command{
		Use:   "emit <event> [arg...]",
		Short: "Send an event through a running process",
		Long: "Send an event through a running process's status API.\n\n" +
			"Each argument is parsed as JSON; anything that is not valid JSON is sent\n" +
			"as a string. Integers that fit 32 bits become Int32, numbers with a\n" +
			"fraction become Double.",
		Example: "  aisio emit --conn 2f1c... move 10 20\n  aisio emit --all notify '\"saved\"' '[1,2]'",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && connID != "" {
				return fmt.Errorf("--all and --conn are mutually exclusive")
			}
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("event name is required")
			}
			values, err := parseEmitArgs(args[1:])
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			if all {
				resp, err := client.Broadcast(cmd.Context(), name, values...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s delivered to %d connection(s)\n", name, resp.Delivered)
				return nil
			}
			if _, err := client.Emit(cmd.Context(), connID, name, values...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s sent\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&connID, "conn", "", "Target connection id (required in server role unless --all)")
	cmd.Flags().BoolVar(&all, "all", false, "Broadcast to every live connection")
	return cmd
}

func parseEmitArgs(args []string) ([]wire.Value, error) {
	values := make([]wire.Value, 0, len(args))
	for _, arg := range args {
		if !json.Valid([]byte(arg)) {
			values = append(values, wire.String(arg))
			continue
		}
		v, err := wire.FromJSON([]byte(arg))
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg, err)
		}
		values = append(values, v)
	}
	return values, nil
}
