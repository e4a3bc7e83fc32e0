package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newPatternsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "patterns", Short: "Inspect the pattern store"}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show pattern counts by vulnerability class",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			st, err := rt.store.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Patterns: %d (avg finders %.1f, avg quality %.1f)\n",
				st.Total, st.AvgFinders, st.AvgQuality)
			classes := make([]string, 0, len(st.ByClass))
			for c := range st.ByClass {
				classes = append(classes, c)
			}
			sort.Strings(classes)
			for _, c := range classes {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-28s %d\n", c, st.ByClass[c])
			}
			return nil
		},
	})
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Inspect or clear the analysis cache"}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache size and hit counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			st := rt.cache.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Size: %.1f MB\nHits: %d\nMisses: %d\n",
				float64(st.Size)/(1024*1024), st.Hits, st.Misses)
			return nil
		},
	})
	clear := &cobra.Command{
		Use:   "clear [static|llm|all]",
		Short: "Drop cached analysis results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "all"
			if len(args) > 0 {
				kind = args[0]
			}
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.cache.Clear(kind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s cache\n", kind)
			return nil
		},
	}
	cmd.AddCommand(clear)
	return cmd
}
