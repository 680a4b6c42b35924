package main

import (
	"fmt"

	"github.com/spf13/cobra"

	syncengine "github.com/pepasjc/savesync/internal/sync"
)

func newPushCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "push <title>",
		Short: "Upload one title's local save, replacing the server copy",
		Long: "Uploads a title's local save, replacing the server copy. Without " +
			"--force the command first checks the server and refuses when the upload " +
			"would lose newer data; with --force the server copy is replaced even if " +
			"it is newer.",
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
				case syncengine.ActionDownload:
					return fmt.Errorf("the server copy of %s is newer than the local save; "+
						"pushing would overwrite it (use --force to push anyway)", t.DisplayName)
				case syncengine.ActionConflict:
					return fmt.Errorf("%s changed on both sides since the last sync; "+
						"pushing discards the server changes (use --force to push anyway)", t.DisplayName)
				}
			}

			if err := exec.PushTitle(cmd.Context(), t); err != nil {
				return err
			}

			fmt.Printf("Pushed %s\n", t.DisplayName)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "push without checking the server first")

	return cmd
}
