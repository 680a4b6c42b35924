package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var fetchTimestamp int64
	var outPath string

	cmd := &cobra.Command{
		Use:   "history <title>",
		Short: "List the server's archived versions of a title's save",
		Long: "Lists the archived versions the server keeps for a title. With " +
			"--fetch, downloads one version's bundle to a file instead of writing " +
			"it over the local save.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			list, err := cc.enumerate(cmd.Context())
			if err != nil {
				return err
			}

			t, err := findTitle(list, args[0])
			if err != nil {
				return err
			}

			client := cc.newAPIClient()

			if fetchTimestamp != 0 {
				data, err := client.GetHistoryVersion(cmd.Context(), t.HexID(), fetchTimestamp)
				if err != nil {
					return err
				}

				path := outPath
				if path == "" {
					path = fmt.Sprintf("%s-%d.bundle", t.HexID(), fetchTimestamp)
				}

				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", path, err)
				}

				fmt.Printf("Saved version %d of %s to %s (%s)\n",
					fetchTimestamp, t.DisplayName, path, formatSize(int64(len(data))))

				return nil
			}

			h, err := client.GetHistory(cmd.Context(), t.HexID())
			if err != nil {
				return err
			}

			if len(h.Versions) == 0 {
				statusf("No archived versions for %s.\n", t.DisplayName)
				return nil
			}

			rows := make([][]string, 0, len(h.Versions))
			for _, v := range h.Versions {
				rows = append(rows, []string{
					strconv.FormatInt(v.Timestamp, 10),
					formatTime(v.Timestamp),
					formatSize(v.Size),
					strconv.Itoa(v.FileCount),
				})
			}

			printTable(os.Stdout, []string{"TIMESTAMP", "WHEN", "SIZE", "FILES"}, rows)

			return nil
		},
	}

	cmd.Flags().Int64Var(&fetchTimestamp, "fetch", 0, "download the version with this timestamp")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path for --fetch")

	return cmd
}
