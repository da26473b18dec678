package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/babelcloud/gbox/packages/caster/config"
	"github.com/babelcloud/gbox/packages/caster/internal/app"
	"github.com/babelcloud/gbox/packages/caster/internal/util"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type StatusOptions struct {
	OutputFormat string
	APIAddress   string
}

func NewStatusCommand() *cobra.Command {
	opts := &StatusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running caster",
		Long:  "Query the local control API of a running caster and print its state and receivers.",
		Example: `  caster status
  caster status --output json
  caster status --api-address 127.0.0.1:29900`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.OutputFormat, "output", "o", "text", "Output format (json or text)")
	flags.StringVar(&opts.APIAddress, "api-address", config.GetAPIAddress(), "Local control API address")

	cmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "text"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runStatus(opts *StatusOptions) error {
	status, raw, err := fetchStatus(opts.APIAddress)
	if err != nil {
		return err
	}

	if opts.OutputFormat == "json" {
		_, err := os.Stdout.Write(raw)
		return err
	}
	printStatus(os.Stdout, status)
	return nil
}

func fetchStatus(address string) (app.Status, []byte, error) {
	var status app.Status

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/status", address))
	if err != nil {
		return status, nil, errors.Wrapf(err, "caster is not running at %s", address)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return status, nil, errors.Wrap(err, "failed to read status")
	}
	if resp.StatusCode != http.StatusOK {
		return status, nil, errors.Errorf("status request failed: %s", resp.Status)
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return status, nil, errors.Wrap(err, "failed to decode status")
	}
	return status, raw, nil
}

func colorState(state string) string {
	switch {
	case strings.HasPrefix(state, "casting"):
		return color.GreenString(state)
	case strings.HasPrefix(state, "receiving"):
		return color.CyanString(state)
	default:
		return color.New(color.Faint).Sprint(state)
	}
}

func printStatus(out io.Writer, s app.Status) {
	fmt.Fprintf(out, "State:     %s\n", colorState(s.State))
	if s.Session != "" {
		fmt.Fprintf(out, "Session:   %s\n", s.Session)
	}
	if s.Address != "" {
		fmt.Fprintf(out, "Caster:    %s\n", s.Address)
	}
	fmt.Fprintf(out, "Region:    %s\n", s.Region)
	fmt.Fprintf(out, "Engine:    %s\n", s.Engine)

	if s.Mode != "casting" {
		return
	}

	fmt.Fprintln(out)
	columns := []util.TableColumn{
		{Header: "RECEIVER", Key: "endpoint"},
		{Header: "MEDIA PORT", Key: "media_port"},
		{Header: "CONNECTED", Key: "connected"},
		{Header: "TOKEN", Key: "token"},
	}
	rows := make([]map[string]interface{}, 0, len(s.Receivers))
	for _, r := range s.Receivers {
		rows = append(rows, map[string]interface{}{
			"endpoint":   color.CyanString(r.Endpoint.String()),
			"media_port": r.MediaPort,
			"connected":  time.Since(r.ConnectedAt).Truncate(time.Second).String() + " ago",
			"token":      r.Token,
		})
	}
	util.RenderTable(out, columns, rows)
}
