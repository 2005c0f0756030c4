package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steadyq-io/steadyq/internal/config"
)

var configDocsCmd = &cobra.Command{
	Use:    "configdocs",
	Short:  "Print a generated reference of the scenario config YAML fields",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.GenerateDocs())
	},
}

func init() {
	rootCmd.AddCommand(configDocsCmd)
}
