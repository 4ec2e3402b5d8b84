package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aisio/internal/api"
	"aisio/internal/daemonctl"
)

const stopGracePeriod = 10 * time.Second

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStatusCommand(ctx),
		newStopCommand(ctx),
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var roleFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show role status and live connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			role, err := parseRole(roleFlag)
			if err != nil {
				return err
			}
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), cfg, role)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(status, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}

	cmd.Flags().StringVar(&roleFlag, "role", "server", "Role to inspect (server or client)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderStatus(status api.Status, colorize bool) string {
	var b strings.Builder
	for _, line := range renderSectionHeader("aisio "+status.Role, colorize) {
		b.WriteString(line + "\n")
	}

	if status.Running {
		detail := "pid " + strconv.Itoa(status.PID)
		if status.UptimeSeconds > 0 {
			detail += ", up " + (time.Duration(status.UptimeSeconds) * time.Second).String()
		}
		b.WriteString(renderStatusLine("Process", statusOK, detail, colorize) + "\n")
	} else {
		b.WriteString(renderStatusLine("Process", statusWarn, "not running", colorize) + "\n")
	}
	b.WriteString(renderStatusLine("Address", statusInfo, status.Address, colorize) + "\n")
	if status.ClientState != "" {
		kind := statusWarn
		if status.ClientState == "connected" {
			kind = statusOK
		}
		msg := status.ClientState
		if status.FailedAttempts > 0 {
			msg += fmt.Sprintf(" (%d failed attempts)", status.FailedAttempts)
		}
		b.WriteString(renderStatusLine("Session", kind, msg, colorize) + "\n")
	}
	if status.LastError != "" {
		b.WriteString(renderStatusLine("Last error", statusError, status.LastError, colorize) + "\n")
	}
	if len(status.Handlers) > 0 {
		b.WriteString(renderStatusLine("Handlers", statusInfo, strings.Join(status.Handlers, ", "), colorize) + "\n")
	}
	b.WriteString(renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize) + "\n")
	if status.LogPath != "" {
		b.WriteString(renderStatusLine("Log file", statusInfo, status.LogPath, colorize) + "\n")
	}
	if status.JournalPath != "" {
		b.WriteString(renderStatusLine("Journal", statusInfo, status.JournalPath, colorize) + "\n")
	}

	if len(status.Connections) == 0 {
		b.WriteString("\nNo live connections\n")
		return b.String()
	}
	rows := make([][]string, 0, len(status.Connections))
	for _, conn := range status.Connections {
		rows = append(rows, []string{conn.ID, conn.RemoteAddr, conn.ConnectedAt})
	}
	b.WriteString("\n" + renderTable([]string{"ID", "Remote", "Connected"}, rows, nil) + "\n")
	return b.String()
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var roleFlag string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			role, err := parseRole(roleFlag)
			if err != nil {
				return err
			}
			result, err := daemonctl.StopAndTerminate(cfg, role, stopGracePeriod)
			out := cmd.OutOrStdout()
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintf(out, "aisio %s is not running\n", role)
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "aisio %s (pid %d) did not stop in time and was killed\n", role, result.PID)
				return nil
			}
			fmt.Fprintf(out, "aisio %s (pid %d) stopped\n", role, result.PID)
			return nil
		},
	}

	cmd.Flags().StringVar(&roleFlag, "role", "server", "Role to stop (server or client)")
	return cmd
}
