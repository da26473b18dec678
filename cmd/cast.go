package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/babelcloud/gbox/packages/caster/config"
	"github.com/babelcloud/gbox/packages/caster/internal/transmission"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/dchest/uniuri"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type CastOptions struct {
	Region      string
	Interactive bool
}

func NewCastCommand() *cobra.Command {
	opts := &CastOptions{}

	cmd := &cobra.Command{
		Use:   "cast",
		Short: "Broadcast this screen to receivers",
		Long: `Start casting this host's screen. Every receiver that connects to the control port is added as a media destination and removed again when its connection closes.

When stdin is a terminal the interactive console is started so the cast can be paused, blanked or re-cropped.`,
		Example: `  caster cast
  caster cast --region 0,0,1280,720
  caster cast --engine synthetic --control-port 9100`,
		SilenceUsage: true,
		PreRun: func(cmd *cobra.Command, args []string) {
			bindRuntimeFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interactive") {
				opts.Interactive = stdinIsTerminal()
			}
			return runCast(cmd, opts)
		},
	}

	addRuntimeFlags(cmd)
	flags := cmd.Flags()
	flags.StringVarP(&opts.Region, "region", "r", "", "Capture region x0,y0,x1,y1 (default full screen)")
	flags.BoolVarP(&opts.Interactive, "interactive", "i", false, "Read intents from stdin (default when stdin is a terminal)")

	return cmd
}

func runCast(cmd *cobra.Command, opts *CastOptions) error {
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

	if opts.Region != "" {
		if err := rt.submit(ctx, transmission.IntentSetRegion, opts.Region); err != nil {
			return err
		}
	}

	id := "cast-" + uniuri.NewLen(8)
	events := rt.ctrl.Subscribe(id)
	defer rt.ctrl.Unsubscribe(id)

	submitCtx, cancel := submitContext(ctx)
	defer cancel()

	sp := util.NewUISpinner(!stdoutIsTerminal(), "Starting cast...")
	if err := rt.submit(submitCtx, transmission.IntentStartCast, ""); err != nil {
		sp.Fail(fmt.Sprintf("Failed to start casting: %v", err))
		return err
	}
	sp.Success(fmt.Sprintf("Casting on control port %d, media port %d", config.GetControlPort(), config.GetMediaPort()))
	if rt.api != nil {
		fmt.Printf("   Status: %s\n", color.CyanString("http://%s/api/status", rt.api.Addr()))
	}

	if opts.Interactive {
		rt.ctrl.Unsubscribe(id)
		return runConsole(ctx, rt, os.Stdin, os.Stdout)
	}

	fmt.Printf("(Press %s to stop.)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))
	return waitForIdle(ctx, rt.ctrl, id, events)
}

// submitContext bounds a single intent from the command line.
func submitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, config.GetConnectTimeout()+config.GetStopTimeout())
}
