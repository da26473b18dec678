package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/babelcloud/gbox/packages/caster/internal/app"
	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
	"github.com/babelcloud/gbox/packages/caster/internal/transmission"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/dchest/uniuri"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type consoleAction int

const (
	consoleNone consoleAction = iota
	consoleIntent
	consoleStatus
	consoleHelp
	consoleQuit
)

type consoleCommand struct {
	action consoleAction
	req    app.Request
}

const consoleHelpText = `Commands:
  cast                      start casting this screen
  receive <ip>              play the stream of the caster at <ip>
  pause | resume            pause or resume the cast
  blank                     toggle a black picture
  region <x0,y0,x1,y1|full> select the capture region
  stop                      end the current session
  status                    show the current state
  quit                      stop and exit`

// parseConsoleLine turns one console line into a command.
func parseConsoleLine(line string) (consoleCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return consoleCommand{action: consoleNone}, nil
	}

	switch strings.ToLower(fields[0]) {
	case "status":
		return consoleCommand{action: consoleStatus}, nil
	case "help", "?":
		return consoleCommand{action: consoleHelp}, nil
	case "quit", "exit", "q":
		return consoleCommand{action: consoleQuit}, nil
	}

	intent, err := app.ParseIntent(fields[0])
	if err != nil {
		return consoleCommand{}, err
	}
	req := app.Request{Intent: intent}

	switch intent {
	case transmission.IntentStartReceive:
		if len(fields) != 2 {
			return consoleCommand{}, errdefs.Validation("address", "", "usage: receive <ip>")
		}
		req.Address = fields[1]
	case transmission.IntentSetRegion:
		if len(fields) != 2 {
			return consoleCommand{}, errdefs.Validation("region", "", "usage: region <x0,y0,x1,y1|full>")
		}
		req.Region = fields[1]
	default:
		if len(fields) > 1 {
			return consoleCommand{}, errdefs.Validation(fields[0], strings.Join(fields[1:], " "), "takes no arguments")
		}
	}
	return consoleCommand{action: consoleIntent, req: req}, nil
}

// runConsole reads commands from in until quit, EOF or ctx is done. Events
// are echoed to out as they arrive.
func runConsole(ctx context.Context, rt *runner, in io.Reader, out io.Writer) error {
	id := "console-" + uniuri.NewLen(8)
	events := rt.ctrl.Subscribe(id)
	defer rt.ctrl.Unsubscribe(id)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, color.New(color.Faint).Sprint("Type 'help' for commands, 'quit' to exit."))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				next, state, alive := resubscribe(rt.ctrl, id)
				if !alive {
					return nil
				}
				events = next
				fmt.Fprintln(out, color.New(color.Faint).Sprintf("(events skipped, now %s)", state))
				continue
			}
			printEvent(out, ev)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseConsoleLine(line)
			if err != nil {
				fmt.Fprintln(out, color.RedString("✗ %v", err))
				continue
			}
			switch cmd.action {
			case consoleQuit:
				return nil
			case consoleHelp:
				fmt.Fprintln(out, consoleHelpText)
			case consoleStatus:
				printStatus(out, rt.ctrl.Status())
			case consoleIntent:
				if err := rt.ctrl.Submit(ctx, cmd.req); err != nil {
					fmt.Fprintln(out, color.RedString("✗ %v", err))
				}
			}
		}
	}
}

func printEvent(out io.Writer, ev app.Event) {
	switch ev.Kind {
	case string(transmission.StateChanged):
		suffix := ""
		if ev.Involuntary {
			suffix = color.New(color.Faint).Sprint(" (involuntary)")
		}
		fmt.Fprintf(out, "→ %s%s\n", colorState(ev.State), suffix)
	case string(transmission.ConnectivityLost):
		fmt.Fprintln(out, color.YellowString("! connection to caster lost"))
	case string(transmission.Error):
		fmt.Fprintln(out, color.RedString("✗ %s", ev.Error))
	case app.EventReceiverAdded:
		fmt.Fprintf(out, "+ receiver %s\n", color.CyanString(ev.Receiver.Endpoint.String()))
	case app.EventReceiverRemoved:
		fmt.Fprintf(out, "- receiver %s\n", color.CyanString(ev.Receiver.Endpoint.String()))
	}
}

func NewConsoleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Control casting interactively",
		Long:  "Start an idle controller and read one intent per line from stdin.",
		Example: `  caster console
  caster console --engine synthetic --api=false`,
		SilenceUsage: true,
		PreRun: func(cmd *cobra.Command, args []string) {
			bindRuntimeFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			verbose, _ := cmd.Flags().GetBool("verbose")
			util.InitLoggerTo(os.Stderr, verbose || util.IsVerbose())

			rt, err := startRunner(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runConsole(ctx, rt, os.Stdin, os.Stdout)
		},
	}

	addRuntimeFlags(cmd)
	return cmd
}
