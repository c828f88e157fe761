package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

// LoadConfig starts from the defaults, overlays the config file viper found
// and then any flag or THREATLYNX_* environment override.
func LoadConfig() (*models.Config, error) {
	cfg := models.DefaultConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		if err := cfg.Load(path); err != nil {
			return nil, err
		}
	}

	if v := viper.GetString("global.log_level"); v != "" {
		cfg.Global.LogLevel = v
	}
	if viper.IsSet("global.max_concurrent_scans") {
		cfg.Global.MaxConcurrentScans = viper.GetInt("global.max_concurrent_scans")
	}
	if viper.IsSet("global.scan_timeout") {
		cfg.Global.ScanTimeout = viper.GetDuration("global.scan_timeout")
	}
	for key, dst := range map[string]*string{
		"inference.endpoint":   &cfg.Inference.Endpoint,
		"inference.model":      &cfg.Inference.Model,
		"storage.driver":       &cfg.Storage.Driver,
		"storage.dsn":          &cfg.Storage.DSN,
		"storage.archive_dir":  &cfg.Storage.ArchiveDir,
		"server.host":          &cfg.Server.Host,
		"reporting.output_dir": &cfg.Reporting.OutputDir,
	} {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	if viper.IsSet("server.port") {
		cfg.Server.Port = viper.GetInt("server.port")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage ThreatLynx configuration",
		Long:  `Initialize and inspect the ThreatLynx configuration file.`,
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Long:  `Write the default configuration (YAML) to the given path, or to $HOME/.threatlynx/config.yaml.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.DSN != "" {
				cfg.Storage.DSN = "********"
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home dir: %w", err)
		}
		path = filepath.Join(home, ".threatlynx", "config.yaml")
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return fmt.Errorf("config file must end in .yaml, .yml or .json: %s", path)
	}

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := models.DefaultConfig().Save(path); err != nil {
		return err
	}
	logrus.Infof("Configuration written to %s", path)
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
