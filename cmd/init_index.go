package cmd

import (
	"github.com/spf13/cobra"
)

func newInitIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-index",
		Short: "Creates the search index and its mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.InitIndex(cmd.Context())
		},
	}
}
