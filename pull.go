package main

import (
	"fmt"

	"github.com/spf13/cobra"

	syncengine "github.com/pepasjc/savesync/internal/sync"
)

func newPullCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "pull <title>",
		Short: "Download one title's server save, replacing the local copy",
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

			exec, cleanup, err := cc.newExecutor(progressPrinter())
			if err != nil {
				return err
			}
			defer cleanup()

			if !force {
				dec, err := exec.DecideTitle(cmd.Context(), t)
				if err != nil {
					return err
				}

				switch dec.Action {
				case syncengine.ActionUpload:
					return fmt.Errorf("the local save of %s is newer than the server copy; "+
						"pulling would overwrite it (use --force to pull anyway)", t.DisplayName)
				case syncengine.ActionConflict:
					return fmt.Errorf("%s changed on both sides since the last sync; "+
						"pulling discards the local changes (use --force to pull anyway)", t.DisplayName)
				}
			}

			if err := exec.PullTitle(cmd.Context(), t); err != nil {
				return err
			}

			fmt.Printf("Pulled %s\n", t.DisplayName)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "pull without checking local state first")

	return cmd
}
