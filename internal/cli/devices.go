package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/store"
)

var (
	devicesRenderers bool
	devicesServers   bool
	devicesCached    bool
	devicesTimeout   time.Duration
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List UPnP AV devices on the network",
	Long: `Searches the local network for media renderers and servers and lists
the devices that answered. With --cached, lists devices remembered from
earlier runs instead.`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesRenderers, "renderers", false, "only list media renderers")
	devicesCmd.Flags().BoolVar(&devicesServers, "servers", false, "only list media servers")
	devicesCmd.Flags().BoolVar(&devicesCached, "cached", false, "list devices from the local store")
	devicesCmd.Flags().DurationVarP(&devicesTimeout, "timeout", "t", 0, "search window (default from config)")
	devicesCmd.MarkFlagsMutuallyExclusive("renderers", "servers")
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var devices []core.Device
	var err error
	if devicesCached {
		devices, err = cachedDevices(ctx)
	} else {
		devices, err = discoverDevices(ctx)
	}
	if err != nil {
		return err
	}
	devices = filterDevices(devices, capabilityFilter())

	if JSONOutput() {
		if devices == nil {
			devices = []core.Device{}
		}
		return printJSON(devices)
	}
	if len(devices) == 0 {
		fmt.Println("No devices found")
		return nil
	}
	printDeviceTable(devices, time.Now())
	return nil
}

func capabilityFilter() []core.Capability {
	switch {
	case devicesRenderers:
		return []core.Capability{core.CapabilityRenderer}
	case devicesServers:
		return []core.Capability{core.CapabilityServer}
	default:
		return nil
	}
}

func discoverDevices(ctx context.Context) ([]core.Device, error) {
	c := *cfg
	if devicesTimeout > 0 {
		c.Discovery.SearchTimeout = max(int(devicesTimeout/time.Second), 1)
	}
	rt := newStack(&c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := rt.startDiscovery(ctx); err != nil {
		return nil, err
	}
	describeAll(ctx, rt)

	devices := rt.reg.Snapshot()
	rememberDevices(ctx, devices)
	return devices, nil
}

// describeAll names every device that has not been named yet. Devices
// that do not answer keep their identifier as display name.
func describeAll(ctx context.Context, rt *avStack) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	pending := 0
	for _, d := range rt.reg.Snapshot() {
		if d.Name != "" {
			continue
		}
		pending++
		go func() {
			defer func() { done <- struct{}{} }()
			desc, err := rt.desc.Describe(ctx, d.ID)
			if err != nil {
				logger.Debug("describe failed", "device", d.ID, "error", err)
				return
			}
			rt.reg.Annotate(d.ID, desc.FriendlyName, desc.DeviceType)
		}()
	}
	for range pending {
		<-done
	}
}

func cachedDevices(ctx context.Context) ([]core.Device, error) {
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()
	return st.Devices(ctx)
}

// rememberDevices saves discovered devices. The store is best effort here.
func rememberDevices(ctx context.Context, devices []core.Device) {
	st, err := openStore()
	if err != nil {
		logger.Debug("store unavailable", "error", err)
		return
	}
	defer func() { _ = st.Close() }()
	for _, d := range devices {
		if err := st.SaveDevice(ctx, d); err != nil {
			logger.Debug("save device", "device", d.ID, "error", err)
		}
	}
}

func openStore() (*store.Store, error) {
	path := cfg.Store.Path
	if path == "" {
		var err error
		if path, err = store.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

func filterDevices(devices []core.Device, filter []core.Capability) []core.Device {
	if len(filter) == 0 {
		return devices
	}
	var out []core.Device
	for _, d := range devices {
		for _, c := range filter {
			if d.Capability == c {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func printDeviceTable(devices []core.Device, now time.Time) {
	t := NewTable("", "NAME", "ID", "SEEN", "KIND")
	for _, d := range devices {
		t.Row(
			StatusIcon(!d.Expired(now)),
			TruncateString(d.DisplayName(), 32),
			d.ID,
			FormatAge(d.LastSeen, now),
			capabilityLabel(d.Capability),
		)
	}
	t.Flush()
}
