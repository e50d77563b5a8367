package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/myfriend/internal/config"
	"github.com/stellarlinkco/myfriend/internal/gateway"
	"github.com/stellarlinkco/myfriend/internal/logging"
	"github.com/stellarlinkco/myfriend/internal/memory"
	"github.com/stellarlinkco/myfriend/internal/operator"
)

var (
	configFlag     string
	experimentFlag string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "myfriend",
		Short:         "myfriend - a proactive AI companion",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (json or yaml)")

	gatewayCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Start the companion (channels + proactive and sharing cycles)",
		Args:  cobra.NoArgs,
		RunE:  runGateway,
	}
	gatewayCmd.Flags().StringVar(&experimentFlag, "experiment", "", "override the experiment condition (proactive or reactive)")

	root.AddCommand(
		gatewayCmd,
		&cobra.Command{
			Use:   "onboard",
			Short: "Initialize config and workspace",
			Args:  cobra.NoArgs,
			RunE:  runOnboard,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show myfriend status",
			Args:  cobra.NoArgs,
			RunE:  runStatus,
		},
		&cobra.Command{
			Use:   "memories [user]",
			Short: "List remembered facts for a user, or the known users",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runMemories,
		},
		&cobra.Command{
			Use:   "forget <user>",
			Short: "Clear everything remembered about a user",
			Args:  cobra.ExactArgs(1),
			RunE:  runForget,
		},
		&cobra.Command{
			Use:   "config",
			Short: "Show the effective proactive and sharing settings",
			Args:  cobra.NoArgs,
			RunE:  runConfig,
		},
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configFlag
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadConfigFrom(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if experimentFlag != "" {
		cfg.Agent.Experiment = experimentFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	logger, closeLog := logging.Setup(cfg.Logging.File, logging.ParseLevel(cfg.Logging.Level))
	defer closeLog()

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := configFlag
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err := writeConfig(cfgPath, config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfigFrom(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, dir := range []string{
		cfg.Agent.Workspace,
		cfg.Logging.ResearchDir,
		filepath.Dir(cfg.Memory.DBPath),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fmt.Fprintf(out, "Workspace ready: %s\n", cfg.Agent.Workspace)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key and a channel\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set MYFRIEND_API_KEY and MYFRIEND_TELEGRAM_TOKEN")
	fmt.Fprintln(out, "  3. Run 'myfriend gateway'")
	return nil
}

func writeConfig(path string, cfg *config.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	path := configFlag
	if path == "" {
		path = config.ConfigPath()
	}
	fmt.Fprintf(out, "Config: %s\n", path)
	fmt.Fprintf(out, "Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Fprintf(out, "Experiment: %s\n", cfg.Agent.Experiment)
	fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Fprintf(out, "Search: %s\n", searchDisplay(cfg))
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Fprintf(out, "WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)
	fmt.Fprintf(out, "Gateway: %s\n", cfg.Gateway.Addr())

	if _, err := os.Stat(cfg.Memory.DBPath); err != nil {
		fmt.Fprintf(out, "Memory: empty (%s)\n", cfg.Memory.Backend)
		return nil
	}
	users, err := withRegistry(cmd.Context(), cfg, func(ctx context.Context, reg *memory.Registry) ([]string, error) {
		return reg.KnownUsers(ctx)
	})
	if err != nil {
		fmt.Fprintf(out, "Memory: error (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Memory: %d users (%s)\n", len(users), cfg.Memory.Backend)
	return nil
}

func runMemories(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		users, err := withRegistry(cmd.Context(), cfg, func(ctx context.Context, reg *memory.Registry) ([]string, error) {
			return reg.KnownUsers(ctx)
		})
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Fprintln(out, "No users remembered yet.")
			return nil
		}
		sort.Strings(users)
		fmt.Fprintln(out, strings.Join(users, "\n"))
		return nil
	}

	return printOperator(cmd, cfg, func(ctx context.Context, svc *operator.Service) (string, error) {
		return svc.Memories(ctx, args[0])
	})
}

func runForget(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return printOperator(cmd, cfg, func(ctx context.Context, svc *operator.Service) (string, error) {
		return svc.Forget(ctx, args[0])
	})
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), operator.New(cfg, nil, nil, nil, nil).Config())
	return nil
}

// printOperator runs fn against an offline operator service backed by the
// durable fact store.
func printOperator(cmd *cobra.Command, cfg *config.Config, fn func(context.Context, *operator.Service) (string, error)) error {
	text, err := withRegistry(cmd.Context(), cfg, func(ctx context.Context, reg *memory.Registry) (string, error) {
		return fn(ctx, operator.New(cfg, reg, nil, nil, nil))
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func withRegistry[T any](ctx context.Context, cfg *config.Config, fn func(context.Context, *memory.Registry) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Memory.DBPath), 0755); err != nil {
		return zero, fmt.Errorf("create data dir: %w", err)
	}
	backend, err := memory.OpenFactStore(cfg.Memory)
	if err != nil {
		return zero, fmt.Errorf("open memory backend: %w", err)
	}
	reg := memory.NewRegistry(memory.OptionsFromConfig(cfg), backend, logging.Discard())
	defer reg.Close()
	return fn(ctx, reg)
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func searchDisplay(cfg *config.Config) string {
	if cfg.Search.BraveAPIKey == "" {
		return "disabled (no Brave API key)"
	}
	return "brave"
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}
