package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Asout3/audit-agent/internal/config"
)

func newInitCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default deepaudit.toml to the target directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = "."
			}
			cfg := config.Default()
			return cfg.Write(filepath.Join(dir, config.FileName))
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to write config file to")
	return cmd
}
