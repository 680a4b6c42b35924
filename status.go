package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <title>",
		Short: "Show a title's local, server, and last-synced state",
		Args:  cobra.ExactArgs(1),
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

			exec, cleanup, err := cc.newExecutor(nil)
			if err != nil {
				return err
			}
			defer cleanup()

			d, err := exec.Details(cmd.Context(), t)
			if err != nil {
				return err
			}

			dec, err := exec.DecideTitle(cmd.Context(), t)
			if err != nil {
				return err
			}

			fmt.Printf("%s (%s, %s)\n\n", t.DisplayName, t.HexID(), t.Kind)

			if d.HasLocal {
				fmt.Printf("Local:        %d file(s), %s, hash %s\n",
					d.LocalFiles, formatSize(d.LocalSize), shortHash(d.LocalHash))
			} else {
				fmt.Println("Local:        no save data")
			}

			if d.HasServer {
				fmt.Printf("Server:       %d file(s), %s, hash %s\n",
					d.ServerFiles, formatSize(d.ServerSize), shortHash(d.ServerHash))
				fmt.Printf("              last sync %s from console %s\n",
					d.ServerLastSync, d.ServerConsoleID)
			} else {
				fmt.Println("Server:       no save stored")
			}

			if d.HasLastSynced {
				fmt.Printf("Last synced:  hash %s\n", shortHash(d.LastSyncedHash))
			} else {
				fmt.Println("Last synced:  never")
			}

			fmt.Println()

			if d.IsSynced {
				fmt.Println("In sync.")
			} else {
				fmt.Printf("Suggested action: %s\n", dec.Action)
			}

			return nil
		},
	}
}
