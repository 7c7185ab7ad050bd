package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Searches the index",
		Long: `Runs a search against the index and prints up to ten results as JSON,
each with its URL and the start of its body text.

Example:
  sitesearch search "railway history"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			results, err := appInstance.Search(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("search %q: %w", query, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return fmt.Errorf("write results: %w", err)
			}
			return nil
		},
	}
}
