package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/avctl/internal/tail"
)

var (
	watchNoEmoji   bool
	watchTimestamp bool
	watchFormat    string
	watchInterval  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow devices joining and leaving the network",
	Long: `Runs discovery continuously and prints devices as they are announced,
depart, or expire.

The --format flag takes a Go template with the fields Type, Emoji, Time,
Device and Reason.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoEmoji, "no-emoji", false, "disable emoji output")
	watchCmd.Flags().BoolVarP(&watchTimestamp, "timestamp", "t", false, "show timestamps")
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "", "custom format template")
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", time.Minute, "search interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	formatter := tail.NewFormatter(
		tail.WithEmoji(!watchNoEmoji),
		tail.WithTimestamp(watchTimestamp),
		tail.WithTemplate(watchFormat),
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt := newStack(cfg)
	watcher := tail.NewWatcher(nil, rt.reg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- watcher.Start(ctx)
	}()

	if err := rt.startDiscovery(ctx); err != nil {
		return err
	}
	go rt.searchEvery(ctx, watchInterval)

	for {
		select {
		case event, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			if JSONOutput() {
				_ = printJSON(eventJSON(event))
				continue
			}
			fmt.Println(formatter.Format(event))

		case err := <-errCh:
			if err == context.Canceled {
				return nil
			}
			return err
		}
	}
}

type eventOutput struct {
	Type      tail.EventType `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	State     string         `json:"state,omitempty"`
	Renderer  string         `json:"renderer,omitempty"`
	URI       string         `json:"uri,omitempty"`
	Position  int            `json:"position,omitempty"`
	DeviceID  string         `json:"device_id,omitempty"`
	Device    string         `json:"device,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

func eventJSON(e tail.Event) eventOutput {
	out := eventOutput{Type: e.Type, Timestamp: e.Timestamp, Reason: e.Reason}
	if s := e.Current; s != nil {
		out.State = s.State.String()
		out.Renderer = s.RendererID
		out.Position = s.Position()
		if item := s.Current(); item != nil {
			out.URI = item.URI
		}
	}
	if d := e.Device; d != nil {
		out.DeviceID = d.ID
		out.Device = d.DisplayName()
	}
	return out
}
