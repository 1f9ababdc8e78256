package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/menuboard/internal/config"
	"github.com/mschirtzinger/menuboard/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Create and inspect menuboard.yaml",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := config.DefaultFileName
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.Write(path, config.Default(), force); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.Menu.AdminPassword != "" {
			shown.Menu.AdminPassword = "********"
		}
		out, err := shown.YAML()
		if err != nil {
			return err
		}
		source := cfg.File
		if source == "" {
			source = "defaults"
		}
		fmt.Printf("# source: %s\n%s", source, out)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
