package cli

import (
	"github.com/spf13/cobra"
)

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Describe the sample database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sb := a.newSandbox()
			defer sb.Close()

			schema, err := sb.Initialize(cmd.Context())
			if err != nil {
				return err
			}
			return a.renderer.Schema(cmd.OutOrStdout(), schema)
		},
	}
}
