package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raaihank/pdf-slicer/internal/config"
)

var forceInit bool

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write an example configuration file",
	Long:  `Writes the default configuration with two example recipients. Without a path the YAML is printed.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInitConfig,
}

func init() {
	initConfigCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing file")
	rootCmd.AddCommand(initConfigCmd)
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	data, err := config.WriteExample()
	if err != nil {
		return fmt.Errorf("failed to render example configuration: %w", err)
	}

	if len(args) == 0 {
		cmd.Print(string(data))
		return nil
	}

	path := args[0]
	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	cmd.Printf("Wrote %s\n", path)
	return nil
}
