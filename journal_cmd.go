package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pepasjc/savesync/internal/journal"
)

func newJournalCmd() *cobra.Command {
	var limit int
	var titleSelector string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recently completed transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			jnl, err := journal.Open(cc.Root+"/journal.db", cc.Logger)
			if err != nil {
				return err
			}
			defer jnl.Close()

			var entries []journal.Entry

			if titleSelector != "" {
				list, err := cc.enumerate(cmd.Context())
				if err != nil {
					return err
				}

				t, err := findTitle(list, titleSelector)
				if err != nil {
					return err
				}

				entries, err = jnl.ForTitle(cmd.Context(), t.HexID(), limit)
				if err != nil {
					return err
				}
			} else {
				entries, err = jnl.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
			}

			if len(entries) == 0 {
				statusf("No transfers recorded yet.\n")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					formatTime(e.At.Unix()),
					e.Action,
					e.TitleID,
					formatSize(e.Size),
					strconv.Itoa(e.FileCount),
					shortHash(e.SaveHash),
				})
			}

			printTable(os.Stdout, []string{"WHEN", "ACTION", "TITLE ID", "SIZE", "FILES", "HASH"}, rows)

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	cmd.Flags().StringVarP(&titleSelector, "title", "t", "", "only show transfers for this title")

	return cmd
}
