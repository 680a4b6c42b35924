package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List syncable titles across all media sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			list, err := cc.enumerate(cmd.Context())
			if err != nil {
				return err
			}

			if len(list) == 0 {
				statusf("No syncable titles found.\n")
				return nil
			}

			rows := make([][]string, 0, len(list))

			for _, t := range list {
				save := "-"
				if t.HasSave {
					save = "yes"
				}

				code := t.ProductCode
				if code == "" {
					code = "-"
				}

				rows = append(rows, []string{t.DisplayName, code, t.Kind.String(), t.HexID(), save})
			}

			printTable(os.Stdout, []string{"NAME", "CODE", "MEDIA", "TITLE ID", "SAVE"}, rows)

			return nil
		},
	}
}
