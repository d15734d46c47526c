package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/errors"
	"github.com/tessro/avctl/internal/session"
)

var stopAll bool

var stopCmd = &cobra.Command{
	Use:   "stop [renderer...]",
	Short: "Stop playback on one or more renderers",
	Long: `Sends Stop to the named renderers, or to every renderer on the network
with --all. Renderers that fail are reported and the rest are still stopped.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().BoolVarP(&stopAll, "all", "a", false, "stop every renderer found")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	names := args
	if len(names) == 0 && !stopAll {
		if cfg.Session.DefaultRenderer == "" {
			return errors.WithSuggestion(errors.ErrNoRenderer,
				"Name one or more renderers, or pass --all")
		}
		names = []string{cfg.Session.DefaultRenderer}
	}

	rt := newStack(cfg)
	if err := rt.startDiscovery(ctx); err != nil {
		return err
	}

	var ids []string
	if stopAll {
		for _, d := range rt.reg.Snapshot(core.CapabilityRenderer) {
			ids = append(ids, d.ID)
		}
	}
	wait := cfg.Discovery.SearchTimeoutDuration() + 5*time.Second
	for _, name := range names {
		d, err := waitForDevice(ctx, rt.reg, name, wait)
		if err != nil {
			return err
		}
		if !d.IsRenderer() {
			return fmt.Errorf("%s: %w", d.DisplayName(), errors.ErrNotRenderer)
		}
		ids = append(ids, d.ID)
	}
	if len(ids) == 0 {
		return errors.WithSuggestion(errors.ErrDeviceNotFound, "Run 'avctl devices --renderers' to check the network")
	}

	actionCtx, cancelAction := context.WithTimeout(ctx, cfg.Session.ActionTimeoutDuration())
	defer cancelAction()
	result := session.StopAll(actionCtx, rt.gw, ids)

	if JSONOutput() {
		errs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			errs = append(errs, e.Error())
		}
		stopped := result.Data
		if stopped == nil {
			stopped = []string{}
		}
		if err := printJSON(map[string]any{"stopped": stopped, "errors": errs}); err != nil {
			return err
		}
	} else {
		for _, id := range result.Data {
			fmt.Printf("%s %s\n", StatusIcon(false), deviceLabel(rt.reg, id))
		}
		for _, e := range result.Errors {
			fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+e.Error()))
		}
	}

	if result.HasErrors() && len(result.Data) == 0 {
		return result.Errors[0]
	}
	return nil
}

type lookuper interface {
	Lookup(id string) (core.Device, error)
}

func deviceLabel(reg lookuper, id string) string {
	if d, err := reg.Lookup(id); err == nil {
		return d.DisplayName() + " stopped"
	}
	return id + " stopped"
}
