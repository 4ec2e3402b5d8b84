package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"aisio/internal/journal"
)

const journalTimeLayout = "2006-01-02 15:04:05"

func newJournalCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the event journal",
	}
	cmd.AddCommand(newJournalSessionsCommand(ctx))
	cmd.AddCommand(newJournalEventsCommand(ctx))
	return cmd
}

func openJournal(ctx *commandContext) (*journal.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Journal.Path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no journal at %s (enable [journal] and run a role first)", cfg.Journal.Path)
	}
	return journal.Open(cfg.Journal.Path)
}

func newJournalSessionsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent connection sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded")
				return nil
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				closed := "open"
				if !s.Open() {
					closed = s.ClosedAt.Local().Format(journalTimeLayout)
				}
				rows = append(rows, []string{
					s.ID,
					s.Role,
					s.RemoteAddr,
					s.OpenedAt.Local().Format(journalTimeLayout),
					closed,
					strconv.FormatInt(s.RecordsIn, 10),
					strconv.FormatInt(s.RecordsOut, 10),
					strconv.FormatInt(s.RecordsDropped, 10),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Role", "Remote", "Opened", "Closed", "In", "Out", "Dropped"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newJournalEventsCommand(ctx *commandContext) *cobra.Command {
	var filter journal.Filter
	var direction string
	var since time.Duration
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List journaled events, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch journal.Direction(direction) {
			case "", journal.DirectionIn, journal.DirectionOut, journal.DirectionDropped:
				filter.Direction = journal.Direction(direction)
			default:
				return fmt.Errorf("unknown direction %q (want in, out or dropped)", direction)
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Events(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No events recorded")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				detail := string(e.Args)
				if e.Error != "" {
					detail = e.Error
				}
				rows = append(rows, []string{
					e.CreatedAt.Local().Format(journalTimeLayout),
					string(e.Direction),
					e.Name,
					detail,
					strconv.Itoa(e.Bytes),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Time", "Dir", "Event", "Args", "Bytes"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.SessionID, "session", "", "Only events of this session")
	cmd.Flags().StringVar(&filter.Name, "name", "", "Only events with this name")
	cmd.Flags().StringVar(&direction, "direction", "", "Only in, out or dropped records")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this (e.g. 15m)")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", journal.DefaultQueryLimit, "Maximum events to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
