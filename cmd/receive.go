package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/babelcloud/gbox/packages/caster/internal/transmission"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/dchest/uniuri"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type ReceiveOptions struct {
	Interactive bool
}

func NewReceiveCommand() *cobra.Command {
	opts := &ReceiveOptions{}

	cmd := &cobra.Command{
		Use:   "receive <ip>",
		Short: "Play the stream of a caster",
		Long: `Connect to the caster at <ip> and play its stream. The command returns when the caster goes away or on Ctrl+C.

Decoded frames are served at /api/frame of the local control API.`,
		Example: `  caster receive 192.168.1.20
  caster receive 192.168.1.20 --control-port 9100`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		PreRun: func(cmd *cobra.Command, args []string) {
			bindRuntimeFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Rejected before anything is started.
			if err := transmission.ValidateAddress(args[0]); err != nil {
				return err
			}
			if !cmd.Flags().Changed("interactive") {
				opts.Interactive = stdinIsTerminal()
			}
			return runReceive(cmd, args[0], opts)
		},
	}

	addRuntimeFlags(cmd)
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "Read intents from stdin (default when stdin is a terminal)")

	return cmd
}

func runReceive(cmd *cobra.Command, address string, opts *ReceiveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Interactive {
		verbose, _ := cmd.Flags().GetBool("verbose")
		util.InitLoggerTo(os.Stderr, verbose || util.IsVerbose())
	}

	rt, err := startRunner(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	id := "receive-" + uniuri.NewLen(8)
	events := rt.ctrl.Subscribe(id)
	defer rt.ctrl.Unsubscribe(id)

	submitCtx, cancel := submitContext(ctx)
	defer cancel()

	sp := util.NewUISpinner(!stdoutIsTerminal(), fmt.Sprintf("Connecting to %s...", address))
	if err := rt.submit(submitCtx, transmission.IntentStartReceive, address); err != nil {
		sp.Fail(fmt.Sprintf("Failed to connect to %s: %v", address, err))
		return err
	}
	sp.Success(fmt.Sprintf("Receiving from %s", color.CyanString(address)))
	if rt.api != nil {
		fmt.Printf("   Latest frame: %s\n", color.CyanString("http://%s/api/frame", rt.api.Addr()))
	}

	if opts.Interactive {
		rt.ctrl.Unsubscribe(id)
		return runConsole(ctx, rt, os.Stdin, os.Stdout)
	}

	fmt.Printf("(Press %s to stop.)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))
	return waitForIdle(ctx, rt.ctrl, id, events)
}
