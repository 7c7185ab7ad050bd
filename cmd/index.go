package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
)

func newIndexCmd() *cobra.Command {
	var (
		site         bool
		maxPages     int
		ignoreRobots bool
	)

	cmd := &cobra.Command{
		Use:   "index <url>",
		Short: "Indexes a page, or a whole site with --site",
		Long: `Runs one index job in the foreground and prints the finished job as JSON.
Without --site only the given page is indexed; with --site every page on the
same host reachable from it is indexed, up to --max-pages fetches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			params := crawler.JobParameters{URL: args[0], Mode: crawler.JobModePage, MaxPages: maxPages}
			if site {
				params.Mode = crawler.JobModeSite
			}
			if cmd.Flags().Changed("ignore-robots") {
				params.RespectRobots = !ignoreRobots
				params.RespectRobotsProvided = true
			}

			job, err := appInstance.RunJob(cmd.Context(), params)
			if err != nil {
				return fmt.Errorf("index %s: %w", args[0], err)
			}
			appInstance.Logger().Info("index job finished",
				zap.String("job_id", job.ID),
				zap.String("status", string(job.Status)),
			)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return fmt.Errorf("write job: %w", err)
			}
			if job.Status != crawler.JobStatusSucceeded {
				return fmt.Errorf("job %s finished with status %s: %s", job.ID, job.Status, job.ErrorText)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&site, "site", false, "index every page of the site")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "maximum pages to fetch (default from config)")
	cmd.Flags().BoolVar(&ignoreRobots, "ignore-robots", false, "do not honor robots.txt")

	return cmd
}
