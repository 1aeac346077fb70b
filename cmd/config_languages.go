package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "Inspect configured language recipes",
}

var languagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured language recipe names",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(cfg.Languages))
		for name := range cfg.Languages {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var languagesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print one language recipe as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		recipe, ok := cfg.Recipe(args[0])
		if !ok {
			return fmt.Errorf("no language recipe named %q", args[0])
		}
		return yaml.NewEncoder(os.Stdout).Encode(recipe)
	},
}

var mountsCmd = &cobra.Command{
	Use:   "mounts",
	Short: "Inspect the configured sandbox profile's bind mounts",
}

var mountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sandbox profile's bind mounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, m := range cfg.Sandbox.Mounts {
			fmt.Printf("%s -> %s\n", m.HostSource, m.SandboxDestination)
		}
		return nil
	},
}

func init() {
	languagesCmd.AddCommand(languagesListCmd)
	languagesCmd.AddCommand(languagesShowCmd)
	configCmd.AddCommand(languagesCmd)

	mountsCmd.AddCommand(mountsListCmd)
	configCmd.AddCommand(mountsCmd)
}
