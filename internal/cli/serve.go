package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/avctl/internal/bridge"
	"github.com/tessro/avctl/internal/mqtt"
	"github.com/tessro/avctl/internal/session"
)

var (
	serveInterval time.Duration
	serveResume   bool
	serveNoMQTT   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run discovery, eventing and the MQTT bridge until interrupted",
	Long: `Keeps the device registry current, records devices and queues in the
local store, and mirrors the registry and the playback session to an MQTT
broker when [mqtt] is enabled. Commands published to <prefix>/session/command
control playback on the default renderer.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVarP(&serveInterval, "interval", "i", time.Minute, "search interval")
	serveCmd.Flags().BoolVar(&serveResume, "resume", false, "resume the saved queue on the default renderer")
	serveCmd.Flags().BoolVar(&serveNoMQTT, "no-mqtt", false, "do not connect to the MQTT broker")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt := newStack(cfg)
	defer rt.close()
	if err := rt.startEvents(ctx); err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	go st.RecordDevices(ctx, rt.reg, logger)

	if err := rt.startDiscovery(ctx); err != nil {
		return err
	}
	go rt.searchEvery(ctx, serveInterval)

	sess := rt.newSession()
	defer func() { _ = sess.Close() }()
	go st.RecordQueue(ctx, sess, logger)

	if name := cfg.Session.DefaultRenderer; name != "" {
		if err := selectDefaults(ctx, rt, sess, name); err != nil {
			logger.Warn("default renderer unavailable", "renderer", name, "error", err)
		}
	}

	if cfg.MQTT.Enabled && !serveNoMQTT {
		client, err := mqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		b := bridge.New(client, client.Topics(), rt.reg, sess, sess, logger)
		go func() {
			if err := b.Run(ctx); err != nil {
				logger.Error("bridge stopped", "error", err)
				cancel()
			}
		}()
		logger.Info("mqtt bridge running", "broker", cfg.MQTT.Broker, "prefix", client.Topics().Prefix)
	}

	if !JSONOutput() {
		fmt.Printf("%s %s\n", titleStyle.Render("avctl serving"), mutedStyle.Render("(Ctrl-C to exit)"))
	}
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// selectDefaults binds the session to the configured renderer and server
// and optionally resumes the saved queue.
func selectDefaults(ctx context.Context, rt *avStack, sess *session.Session, rendererName string) error {
	wait := rt.cfg.Discovery.SearchTimeoutDuration() + 5*time.Second
	renderer, err := waitForDevice(ctx, rt.reg, rendererName, wait)
	if err != nil {
		return err
	}
	if err := sess.SelectRenderer(ctx, renderer.ID); err != nil {
		return err
	}
	if name := rt.cfg.Session.DefaultServer; name != "" {
		if server, err := waitForDevice(ctx, rt.reg, name, wait); err == nil {
			if err := sess.SelectServer(ctx, server.ID); err != nil {
				return err
			}
		}
	}
	if !serveResume {
		return nil
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	saved, err := st.LoadQueue(ctx, renderer.ID)
	if err != nil || saved.IsEmpty() {
		return err
	}
	return sess.LoadAndPlay(ctx, saved.Items, saved.Position)
}
