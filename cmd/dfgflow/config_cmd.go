package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or write the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, p := range cfgManager.GetPaths() {
			fmt.Fprintf(stdout(cmd), "# loaded: %s\n", p)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = stdout(cmd).Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the effective configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ".dfgflow.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := cfgManager.Write(path); err != nil {
			return err
		}
		abs, _ := filepath.Abs(path)
		fmt.Fprintf(stdout(cmd), "wrote %s\n", abs)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
