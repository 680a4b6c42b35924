package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Batch-sync every title with the server",
		Long: "Hashes every local save, negotiates a plan with the server, then " +
			"uploads and downloads as directed. Raw-cartridge titles are skipped; " +
			"push or pull those explicitly.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			list, err := cc.enumerate(cmd.Context())
			if err != nil {
				return err
			}

			exec, cleanup, err := cc.newExecutor(progressPrinter())
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := exec.SyncAll(cmd.Context(), list)
			if err != nil {
				return err
			}

			fmt.Printf("Synced: %d uploaded, %d downloaded, %d up to date",
				summary.Uploaded, summary.Downloaded, summary.UpToDate)

			if summary.Skipped > 0 {
				fmt.Printf(", %d skipped", summary.Skipped)
			}

			if summary.Failed > 0 {
				fmt.Printf(", %d failed", summary.Failed)
			}

			fmt.Println()

			if summary.Conflicts > 0 {
				fmt.Printf("%d conflict(s) need manual resolution:\n", summary.Conflicts)

				for _, hex := range summary.ConflictTitles {
					name := hex
					if t, err := findTitle(list, hex); err == nil {
						name = t.DisplayName
					}

					fmt.Printf("  %s\n", name)
				}

				if summary.Conflicts > len(summary.ConflictTitles) {
					fmt.Printf("  ...and %d more\n", summary.Conflicts-len(summary.ConflictTitles))
				}

				fmt.Println("Use 'savesync push' or 'savesync pull' to pick a side.")
			}

			return nil
		},
	}
}
