package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/errors"
	"github.com/tessro/avctl/internal/session"
	"github.com/tessro/avctl/internal/store"
	"github.com/tessro/avctl/internal/tail"
)

var (
	playTo     string
	playServer string
	playResume bool
	playStart  int
	playWait   time.Duration
)

var playCmd = &cobra.Command{
	Use:   "play [uri...]",
	Short: "Play media on a renderer",
	Long: `Plays one or more URIs on a media renderer and follows playback until
the playlist ends. Relative URIs are resolved against the media server
given with --server. Press Ctrl-C to stop playback and exit.

Examples:
  avctl play --to "Living Room TV" http://nas.local:8200/MediaItems/12.mp3
  avctl play --to "Living Room TV" --resume`,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVarP(&playTo, "to", "t", "", "renderer name or ID (default from config)")
	playCmd.Flags().StringVarP(&playServer, "server", "s", "", "media server used to resolve relative URIs")
	playCmd.Flags().BoolVarP(&playResume, "resume", "r", false, "resume the saved queue for the renderer")
	playCmd.Flags().IntVar(&playStart, "start", 0, "playlist position to start from")
	playCmd.Flags().DurationVar(&playWait, "wait", 10*time.Second, "how long to wait for devices to appear")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	rendererName := firstNonEmpty(playTo, cfg.Session.DefaultRenderer)
	if rendererName == "" {
		return errors.WithSuggestion(errors.ErrNoRenderer,
			"Pass --to <renderer> or run 'avctl config set-renderer'")
	}
	if len(args) == 0 && !playResume {
		return fmt.Errorf("nothing to play: give one or more URIs or --resume")
	}

	// Ctrl-C stops playback rather than killing the process outright.
	sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt := newStack(cfg)
	defer rt.close()
	if err := rt.startEvents(ctx); err != nil {
		return err
	}
	if err := rt.startDiscovery(ctx); err != nil {
		return err
	}

	renderer, err := waitForDevice(sigCtx, rt.reg, rendererName, playWait)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := st.SaveDevice(ctx, renderer); err != nil {
		logger.Debug("save device", "device", renderer.ID, "error", err)
	}

	items, start, err := playlistFor(ctx, st, renderer.ID, args)
	if err != nil {
		return err
	}

	sess := rt.newSession()
	defer func() { _ = sess.Close() }()

	if err := sess.SelectRenderer(ctx, renderer.ID); err != nil {
		return err
	}
	if name := firstNonEmpty(playServer, cfg.Session.DefaultServer); name != "" {
		server, err := waitForDevice(sigCtx, rt.reg, name, playWait)
		if err != nil {
			return err
		}
		if err := sess.SelectServer(ctx, server.ID); err != nil {
			return err
		}
	}

	if err := st.SaveQueue(ctx, renderer.ID, core.NewPlaylist(items, start)); err != nil {
		logger.Warn("save queue", "error", err)
	}
	go st.RecordQueue(ctx, sess, logger)

	watcher := tail.NewWatcher(sess, nil)
	errCh := make(chan error, 1)
	go func() {
		errCh <- watcher.Start(ctx)
	}()

	if err := sess.LoadAndPlay(ctx, items, start); err != nil {
		return err
	}
	if !JSONOutput() {
		fmt.Printf("%s %s\n", titleStyle.Render("Playing on"), renderer.DisplayName())
	}
	err = followPlayback(sigCtx, sess, watcher, errCh)
	if !JSONOutput() {
		fmt.Println(mutedStyle.Render("Session"), stateLabel(sess.CurrentState().State))
	}
	return err
}

// playlistFor builds the playlist from args, or from the saved queue when
// resuming.
func playlistFor(ctx context.Context, st *store.Store, rendererID string, args []string) ([]core.PlaylistItem, int, error) {
	if playResume && len(args) == 0 {
		saved, err := st.LoadQueue(ctx, rendererID)
		if err != nil {
			return nil, 0, err
		}
		if saved.IsEmpty() {
			return nil, 0, errors.WithSuggestion(
				fmt.Errorf("no saved queue for %s", rendererID),
				"Start playback with 'avctl play --to <renderer> <uri>...'")
		}
		return saved.Items, saved.Position, nil
	}

	items := make([]core.PlaylistItem, 0, len(args))
	for _, uri := range args {
		items = append(items, core.NewItem(uri, ""))
	}
	if playStart < 0 || playStart >= len(items) {
		return nil, 0, fmt.Errorf("%w: --start %d", errors.ErrInvalidPosition, playStart)
	}
	return items, playStart, nil
}

// followPlayback prints session events until playback stops or faults.
// Cancelling sigCtx sends Stop and waits briefly for the renderer.
func followPlayback(sigCtx context.Context, sess *session.Session, watcher *tail.Watcher, errCh <-chan error) error {
	formatter := tail.NewFormatter(tail.WithEmoji(!JSONOutput()))
	signals := sigCtx.Done()
	var deadline <-chan time.Time

	for {
		select {
		case e, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			if JSONOutput() {
				_ = printJSON(eventJSON(e))
			} else {
				fmt.Println(formatter.Format(e))
			}
			switch e.Type {
			case tail.EventStop:
				return nil
			case tail.EventFault:
				return fmt.Errorf("%w: %s", errors.ErrSessionFaulted, e.Reason)
			}

		case <-signals:
			signals = nil
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.ActionTimeoutDuration())
			err := sess.Stop(ctx)
			cancel()
			if err != nil {
				return nil
			}
			deadline = time.After(cfg.Session.ActionTimeoutDuration() + time.Second)

		case <-deadline:
			return nil

		case err := <-errCh:
			if err == context.Canceled {
				return nil
			}
			return err
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
