package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"crash-spooler/spooler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	storageDir string
	settingsDB string
	baseURL    string
	appID      string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "crash-spooler",
	Short: "Inspect, confirm and upload stored crash reports",
	Long: `crash-spooler works on the crash records an application left in its
storage directory: list and inspect them, ask for consent and upload them to
the collector, or purge them.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file path.")
	pf.StringVar(&storageDir, "storage-dir", "", "Crash record directory (overrides config.storage_dir).")
	pf.StringVar(&settingsDB, "settings-db", "", "SQLite settings database (overrides config.settings_db).")
	pf.StringVar(&baseURL, "base-url", "", "Collector base URL (overrides config.base_url).")
	pf.StringVar(&appID, "app-id", "", "32 hex character app identifier (overrides config.app_identifier).")
	pf.BoolVar(&debug, "debug", false, "Enable debug logs.")

	rootCmd.AddCommand(listCmd, showCmd, statusCmd, sendCmd, purgeCmd, quarantineCmd, historyCmd, crashCmd)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the flags that were set on
// the command line.
func loadConfig(cmd *cobra.Command) (*spooler.Config, error) {
	cfg := &spooler.Config{}
	if configPath != "" {
		fileCfg, err := spooler.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = fileCfg
	}

	visited := func(name string) bool { return cmd.Flags().Changed(name) }
	if visited("storage-dir") {
		cfg.StorageDir = storageDir
	}
	if visited("settings-db") {
		cfg.SettingsDB = settingsDB
	}
	if visited("base-url") {
		cfg.BaseURL = baseURL
	}
	if visited("app-id") {
		cfg.AppIdentifier = appID
	}
	if visited("debug") {
		cfg.Debug = debug
	}
	if strings.TrimSpace(cfg.StorageDir) == "" {
		return nil, fmt.Errorf("missing storage directory (use --storage-dir or config.yaml storage_dir)")
	}
	cfg.Device = spooler.RuntimeDeviceInfo(cfg.Device)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type env struct {
	cfg      *spooler.Config
	logger   *zap.Logger
	manager  *spooler.Manager
	registry *prometheus.Registry
}

func (e *env) Close() {
	if err := e.manager.Close(); err != nil {
		e.logger.Warn("closing manager", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func newEnv(cmd *cobra.Command, opts spooler.Options) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := spooler.NewLogger(cfg.Logger)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	opts.Logger = logger
	opts.Registerer = reg
	m, err := spooler.NewManager(cfg, opts)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("init manager: %w", err)
	}
	return &env{cfg: cfg, logger: logger, manager: m, registry: reg}, nil
}
