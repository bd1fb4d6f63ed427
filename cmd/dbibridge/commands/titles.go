package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nxtools/dbibridge/internal/bytesize"
	"github.com/nxtools/dbibridge/internal/cli/output"
	"github.com/nxtools/dbibridge/pkg/config"
	"github.com/nxtools/dbibridge/pkg/titles"
)

var titlesCmd = &cobra.Command{
	Use:   "titles [titles-dir]",
	Short: "List the titles the backend would serve",
	Long: `Scan the titles directory and print the catalog the device would see,
without starting the backend.

Examples:
  # List titles in a directory
  dbibridge titles ~/titles

  # Use the directory from the config file
  dbibridge titles`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTitles,
}

func runTitles(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Titles.Root = args[0]
	}
	if err := validateTitlesRoot(cfg.Titles.Root); err != nil {
		return err
	}

	cache := titles.Scan(cfg.Titles.Root, titles.ScanOptions{
		Extensions: cfg.Titles.Extensions,
		MaxEntries: cfg.Titles.MaxEntries,
	})

	if cache.Len() == 0 {
		fmt.Printf("No titles found in %s\n", cfg.Titles.Root)
		return nil
	}

	table := output.NewTableData("Name", "Size", "Path")
	for _, entry := range cache.Entries() {
		size := "?"
		if info, err := os.Stat(entry.FullPath); err == nil {
			size = bytesize.ByteSize(info.Size()).String()
		}
		table.AddRow(entry.DisplayName, size, entry.FullPath)
	}
	if err := output.PrintTable(os.Stdout, table); err != nil {
		return err
	}

	fmt.Printf("\n%d title(s)", cache.Len())
	if cache.Truncated() {
		fmt.Printf(" (catalog capped at %d entries)", cfg.Titles.MaxEntries)
	}
	fmt.Println()
	return nil
}
