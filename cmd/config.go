package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/timeline/internal/config"
)

var forceFlag bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage timeline configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Long: `Write the default configuration to the config file. An existing file is
left alone unless --force is given.

Examples:
  timeline config init
  timeline config init --config ./timeline.yaml --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "overwrite an existing config file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.ConfigFile()
	}
	existed := fileExists(path)
	if err := config.WriteDefault(path, forceFlag); err != nil {
		return err
	}
	if existed {
		printInfo(fmt.Sprintf("Overwrote %s", path))
	} else {
		printInfo(fmt.Sprintf("Wrote %s", path))
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
