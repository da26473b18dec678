package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/babelcloud/gbox/packages/caster/internal/version"
	"github.com/spf13/cobra"
)

func NewVersionCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Example: `  caster version
  caster version --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.ClientInfo()
			if output == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Printf("Version:     %s\n", info["Version"])
			fmt.Printf("Go version:  %s\n", info["GoVersion"])
			fmt.Printf("Git commit:  %s\n", info["GitCommit"])
			fmt.Printf("Built:       %s\n", info["FormattedTime"])
			fmt.Printf("OS/Arch:     %s/%s\n", info["OS"], info["Arch"])
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (json or text)")
	return cmd
}
