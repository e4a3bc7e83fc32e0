package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Asout3/audit-agent/internal/fetch"
)

func newIngestCmd() *cobra.Command {
	var (
		severity string
		protocol string
		count    int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch audit findings from the corpus and store them as patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.cfg.Corpus.APIKey == "" {
				return fmt.Errorf("corpus API key not set (SOLODIT_API_KEY)")
			}

			client := fetch.New(rt.cfg.Corpus, filepath.Join(rt.cfg.DataDir, "corpus_checkpoint.json"))
			if err := client.Validate(cmd.Context()); err != nil {
				return err
			}

			var severities []string
			for _, s := range strings.Split(severity, ",") {
				if s = strings.TrimSpace(s); s != "" {
					severities = append(severities, s)
				}
			}
			records, err := client.FetchFindings(cmd.Context(), severities, protocol, count)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d records\n", len(records))

			res, err := rt.eng.Ingest(cmd.Context(), records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Patterns: %d added, %d skipped, %d keyword fallbacks\n",
				res.Added, res.Skipped, res.Fallbacks)
			return nil
		},
	}
	cmd.Flags().StringVar(&severity, "focus", "high,critical", "Comma-separated severities to fetch")
	cmd.Flags().StringVar(&protocol, "protocol", "", "Restrict to one protocol type")
	cmd.Flags().IntVar(&count, "count", 200, "Maximum records to fetch")
	return cmd
}
