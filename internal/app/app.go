package app

import (
	"github.com/spf13/cobra"

	"github.com/Asout3/audit-agent/internal/cli"
)

func BuildRoot() *cobra.Command {
	root := &cobra.Command{Use: "deepaudit", Short: "Pattern-driven smart contract audit engine"}
	cli.AddCommands(root)
	return root
}
