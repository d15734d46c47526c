package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/errors"
	"github.com/tessro/avctl/internal/store"
)

var (
	queueTo    string
	queueLimit int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage saved playback queues",
	Long: `View and manage the queue saved for each renderer. Queues are saved
whenever avctl starts playing an item and can be resumed with
'avctl play --resume'.`,
	RunE: runQueueShow,
}

var queueShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved queue",
	RunE:  runQueueShow,
}

var queueAddCmd = &cobra.Command{
	Use:   "add <uri>...",
	Short: "Append URIs to the saved queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQueueAdd,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the saved queue",
	RunE:  runQueueClear,
}

func init() {
	queueCmd.PersistentFlags().StringVarP(&queueTo, "to", "t", "", "renderer name or ID (default from config)")
	queueCmd.PersistentFlags().IntVarP(&queueLimit, "limit", "l", 20, "maximum number of items to show")

	queueCmd.AddCommand(queueShowCmd)
	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, renderer, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	p, err := st.LoadQueue(ctx, renderer)
	if err != nil {
		return err
	}
	if JSONOutput() {
		if p == nil {
			p = &core.Playlist{Items: []core.PlaylistItem{}}
		}
		return printJSON(p)
	}
	if p.IsEmpty() {
		fmt.Println("Queue is empty")
		return nil
	}

	t := NewTable("", "#", "TITLE", "DURATION")
	for i, item := range p.Items {
		if i >= queueLimit {
			break
		}
		duration := "-"
		if item.Duration > 0 {
			duration = FormatDuration(item.Duration)
		}
		t.Row(StatusIcon(i == p.Position), strconv.Itoa(i+1), TruncateString(item.DisplayTitle(), 60), duration)
	}
	t.Flush()
	if p.Len() > queueLimit {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("... and %d more", p.Len()-queueLimit)))
	}
	return nil
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, renderer, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	p, err := st.LoadQueue(ctx, renderer)
	if err != nil {
		return err
	}
	if p == nil {
		p = &core.Playlist{}
	}
	for _, uri := range args {
		p.Items = append(p.Items, core.NewItem(uri, ""))
	}
	if err := st.SaveQueue(ctx, renderer, p); err != nil {
		return err
	}

	if JSONOutput() {
		return printJSON(map[string]any{"status": "added", "renderer": renderer, "length": p.Len()})
	}
	fmt.Printf("Added %d item(s); queue has %d\n", len(args), p.Len())
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, renderer, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.ClearQueue(ctx, renderer); err != nil {
		return err
	}
	if JSONOutput() {
		return printJSON(map[string]string{"status": "cleared", "renderer": renderer})
	}
	fmt.Println("Queue cleared")
	return nil
}

// openQueue opens the store and resolves the renderer flag to an ID.
func openQueue(ctx context.Context) (*store.Store, string, error) {
	name := firstNonEmpty(queueTo, cfg.Session.DefaultRenderer)
	if name == "" {
		return nil, "", errors.WithSuggestion(errors.ErrNoRenderer,
			"Pass --to <renderer> or run 'avctl config set-renderer'")
	}
	st, err := openStore()
	if err != nil {
		return nil, "", err
	}
	id, err := resolveCached(ctx, st, name)
	if err != nil {
		_ = st.Close()
		return nil, "", err
	}
	return st, id, nil
}

// resolveCached maps a renderer name to its ID using remembered devices.
// Unknown names are taken to be IDs.
func resolveCached(ctx context.Context, st *store.Store, nameOrID string) (string, error) {
	devices, err := st.Devices(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.ID == nameOrID {
			return d.ID, nil
		}
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name, nameOrID) {
			return d.ID, nil
		}
	}
	return nameOrID, nil
}
