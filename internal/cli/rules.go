package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Asout3/audit-agent/internal/rules"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "List available rules"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in static rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := rules.NewRegistry()
			reg.RegisterBuiltin()
			for _, r := range reg.Rules() {
				m := r.Meta()
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", m.ID, m.Severity, m.Title)
			}
			return nil
		},
	})
	return cmd
}
