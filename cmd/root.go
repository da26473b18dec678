package cmd

import (
	"fmt"

	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/babelcloud/gbox/packages/caster/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "caster",
	Short: "Screen caster",
	Long: `caster broadcasts this host's screen to receivers on the local network, or plays the stream of another caster.

Receivers announce themselves by holding a control connection to the caster (TCP 9000 by default); the caster streams RTP video to every connected receiver on a fixed media port (UDP 9001).`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		util.InitLogger(verbose || util.IsVerbose())
		util.SetupGlobalLogger()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flag("version").Changed {
			info := version.ClientInfo()
			fmt.Printf("caster version %s, build %s\n", info["Version"], info["GitCommit"])
			return nil
		}
		return cmd.Help()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "Enable debug logging")

	rootCmd.AddCommand(NewCastCommand())
	rootCmd.AddCommand(NewReceiveCommand())
	rootCmd.AddCommand(NewConsoleCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
