package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/simbafs/stagesync/internal/config"
	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/metrics"
)

var v = config.New()

var rootCmd = &cobra.Command{
	Use:   "stagesync",
	Short: "Keep lyrics and slides in sync across the screens of a live show.",
	Long: `stagesync runs either as a controller, which hosts the session, the display
registry and the control API, or as a display, which joins a session,
precaches media and renders whatever the leading controller shows.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a config.yaml file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("name", "", "Name announced to the other peers")

	bindFlag(rootCmd, "log.level", "log-level")
	bindFlag(rootCmd, "name", "name")
}

// bindFlag lets a flag override the config key when it is set.
func bindFlag(cmd *cobra.Command, key, flag string) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// loadConfig binds flags (config key -> flag name) of the running command,
// resolves the configuration for role and installs the logger.
func loadConfig(cmd *cobra.Command, role domain.Role, flags map[string]string) (*config.Config, error) {
	for key, flag := range flags {
		bindFlag(cmd, key, flag)
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	}
	v.Set("role", string(role))

	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))
	metrics.Register()
	return cfg, nil
}
