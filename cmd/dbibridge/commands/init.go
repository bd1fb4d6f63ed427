package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nxtools/dbibridge/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a configuration file populated with the default settings.

By default, the configuration file is created at $XDG_CONFIG_HOME/dbibridge/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dbibridge init

  # Initialize with custom path
  dbibridge init --config /etc/dbibridge/config.yaml

  # Force overwrite existing config
  dbibridge init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set titles.root to your title directory (or pass it to start)")
	fmt.Println("  2. Start the backend with: dbibridge start")
	fmt.Printf("  3. Or specify custom config: dbibridge start --config %s\n", configPath)

	return nil
}
