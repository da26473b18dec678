package cmd

import (
	"context"
	"os"
	"time"

	"github.com/babelcloud/gbox/packages/caster/config"
	"github.com/babelcloud/gbox/packages/caster/internal/app"
	"github.com/babelcloud/gbox/packages/caster/internal/server"
	"github.com/babelcloud/gbox/packages/caster/internal/transmission"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// flagKeys maps runtime flags to config keys.
var flagKeys = map[string]string{
	"engine":       "media.engine",
	"control-port": "control.port",
	"media-port":   "media.port",
	"framerate":    "media.framerate",
	"api":          "api.enabled",
	"api-address":  "api.address",
}

// addRuntimeFlags registers the flags every command that runs a controller
// accepts. Defaults come from config; bindRuntimeFlags wires them in.
func addRuntimeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("engine", config.GetMediaEngine(), "Media engine (gstreamer or synthetic)")
	flags.Int("control-port", config.GetControlPort(), "Control channel TCP port")
	flags.Int("media-port", config.GetMediaPort(), "Media UDP port receivers listen on")
	flags.Int("framerate", config.GetFramerate(), "Capture framerate")
	flags.Bool("api", config.IsAPIEnabled(), "Serve the local control API")
	flags.String("api-address", config.GetAPIAddress(), "Local control API listen address")

	cmd.RegisterFlagCompletionFunc("engine", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{EngineGStreamer, EngineSynthetic}, cobra.ShellCompDirectiveNoFileComp
	})
}

// bindRuntimeFlags binds the running command's flags. Binding happens at run
// time because several commands share the same keys.
func bindRuntimeFlags(cmd *cobra.Command) {
	for name, key := range flagKeys {
		config.BindFlag(key, cmd.Flags().Lookup(name))
	}
}

// runner is a running controller plus its optional API server.
type runner struct {
	ctrl   *app.Controller
	api    *server.APIServer
	cancel context.CancelFunc
}

func startRunner(ctx context.Context) (*runner, error) {
	engine, err := NewEngine(config.GetMediaEngine())
	if err != nil {
		return nil, err
	}

	ctrl := app.NewController(app.Config{
		Engine:         engine,
		ControlPort:    config.GetControlPort(),
		MediaPort:      config.GetMediaPort(),
		Framerate:      config.GetFramerate(),
		ConnectTimeout: config.GetConnectTimeout(),
		Keepalive:      config.GetKeepalive(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := ctrl.Run(runCtx); err != nil {
			util.GetLogger().Error("Controller exited", "error", err)
		}
	}()

	rt := &runner{ctrl: ctrl, cancel: cancel}
	if config.IsAPIEnabled() {
		rt.api = server.NewAPIServer(config.GetAPIAddress(), ctrl)
		if err := rt.api.Start(); err != nil {
			// The API is a convenience; casting works without it.
			util.GetLogger().Warn("Local control API unavailable", "address", config.GetAPIAddress(), "error", err)
			rt.api = nil
		}
	}
	return rt, nil
}

// Close stops the live session and waits up to the configured stop timeout.
func (rt *runner) Close() {
	if rt.api != nil {
		if err := rt.api.Stop(); err != nil {
			util.GetLogger().Warn("API server stop", "error", err)
		}
	}
	rt.cancel()

	select {
	case <-rt.ctrl.Done():
	case <-time.After(config.GetStopTimeout()):
		util.GetLogger().Warn("Timed out waiting for the session to stop", "timeout", config.GetStopTimeout())
	}
}

func (rt *runner) submit(ctx context.Context, intent transmission.Intent, arg string) error {
	req := app.Request{Intent: intent}
	switch intent {
	case transmission.IntentStartReceive:
		req.Address = arg
	case transmission.IntentSetRegion:
		req.Region = arg
	}
	return rt.ctrl.Submit(ctx, req)
}

// eventSource is the slice of the controller that event consumers use.
type eventSource interface {
	Subscribe(id string) <-chan app.Event
	Done() <-chan struct{}
}

// resubscribe replaces a subscription the broadcaster dropped for falling
// behind. It reports false once the controller has stopped, otherwise the
// new channel and the state at the time of joining.
func resubscribe(src eventSource, id string) (<-chan app.Event, string, bool) {
	select {
	case <-src.Done():
		return nil, "", false
	default:
	}
	events := src.Subscribe(id)
	snap, ok := <-events
	if !ok {
		return nil, "", false
	}
	util.GetLogger().Warn("Event subscription fell behind, resubscribed", "id", id, "state", snap.State)
	return events, snap.State, true
}

// waitForIdle blocks until the controller returns to Idle, stops, or ctx is
// done. It returns the reason when Idle was not asked for. events must be
// src's subscription under id.
func waitForIdle(ctx context.Context, src eventSource, id string, events <-chan app.Event) error {
	var cause error
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				next, state, alive := resubscribe(src, id)
				if !alive || state == transmission.Idle.String() {
					return cause
				}
				events = next
				continue
			}
			switch transmission.NotificationKind(ev.Kind) {
			case transmission.Error:
				cause = errors.New(ev.Error)
			case transmission.ConnectivityLost:
				cause = errors.New("connection to caster lost")
			case transmission.StateChanged:
				if ev.State == transmission.Idle.String() {
					return cause
				}
			}
		}
	}
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
