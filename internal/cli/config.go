package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tessro/avctl/internal/config"
	"github.com/tessro/avctl/internal/core"
	"github.com/tessro/avctl/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Commands for viewing and editing avctl configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration, including defaults and environment overrides.`,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long:  `Create a new configuration file with default values.`,
	RunE:  runConfigInit,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value. Keys take the form section.key.

Examples:
  avctl config set session.default_renderer "Living Room TV"
  avctl config set discovery.search_timeout 5
  avctl config set mqtt.enabled true`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configSetRendererCmd = &cobra.Command{
	Use:   "set-renderer",
	Short: "Interactively select the default renderer",
	Long:  `Searches the network and shows a picker to select the default renderer.`,
	RunE:  runConfigSetRenderer,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetRendererCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if JSONOutput() {
		return printJSON(cfg)
	}

	encoder := toml.NewEncoder(os.Stdout)
	encoder.Indent = "  "
	return encoder.Encode(cfg)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := config.Write(f, config.Default()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if JSONOutput() {
		return printJSON(map[string]string{
			"status": "created",
			"path":   configPath,
		})
	}
	fmt.Printf("Created config file: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Run 'avctl devices --renderers' to find a renderer")
	fmt.Println("  2. Run 'avctl config set-renderer' to pick a default")
	return nil
}

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return errors.WithSuggestion(
			fmt.Errorf("%w: %s", errors.ErrConfigNotFound, configPath),
			"Run 'avctl config init' first")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	rawConfig := make(map[string]any)
	if _, err := toml.Decode(string(data), &rawConfig); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if err := setRawValue(rawConfig, key, value); err != nil {
		return err
	}

	// Reject values the loader would refuse.
	var check config.Config
	buf := new(strings.Builder)
	if err := toml.NewEncoder(buf).Encode(rawConfig); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if _, err := toml.Decode(buf.String(), &check); err != nil {
		return fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, key, err)
	}
	check.ApplyDefaults()
	if err := check.Validate(); err != nil {
		return err
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := config.Write(f, rawConfig); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if JSONOutput() {
		return printJSON(map[string]string{
			"status": "updated",
			"key":    key,
			"value":  value,
		})
	}
	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

// setRawValue stores value under a section.key path, typing it by the
// shape of the value.
func setRawValue(raw map[string]any, key, value string) error {
	parts := strings.Split(key, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid key format. Use 'section.key' (e.g., session.default_renderer)")
	}
	section, field := parts[0], parts[1]

	sectionMap, ok := raw[section].(map[string]any)
	if !ok {
		sectionMap = make(map[string]any)
		raw[section] = sectionMap
	}
	sectionMap[field] = typedValue(key, value)
	return nil
}

func typedValue(key, value string) any {
	switch key {
	case "discovery.search_targets":
		return strings.Split(value, ",")
	case "session.default_renderer", "session.default_server", "mqtt.client_id",
		"mqtt.username", "mqtt.password":
		return value
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

func runConfigSetRenderer(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt := newStack(cfg)
	if err := rt.startDiscovery(ctx); err != nil {
		return err
	}
	describeAll(ctx, rt)

	renderers := rt.reg.Snapshot(core.CapabilityRenderer)
	if len(renderers) == 0 {
		return errors.WithSuggestion(errors.ErrDeviceNotFound,
			"Make sure the renderer is powered on and on the same network")
	}

	var options []huh.Option[string]
	for _, d := range renderers {
		label := d.DisplayName()
		if d.ID == cfg.Session.DefaultRenderer || strings.EqualFold(d.Name, cfg.Session.DefaultRenderer) {
			label += " [current]"
		}
		options = append(options, huh.NewOption(label, d.ID))
	}

	var selectedID string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select default renderer").
				Description("Used by play, queue and stop when --to is not given").
				Options(options...).
				Value(&selectedID),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("selection cancelled: %w", err)
	}

	return runConfigSet(cmd, []string{"session.default_renderer", selectedID})
}
