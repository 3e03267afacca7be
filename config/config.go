// Package config loads the application's configuration from flags,
// environment variables and an optional YAML file in the data
// directory, and wires up the shared logger.
package config

import (
	"log"
	"os"
	path "path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/makeos-kit/gitd/pkgs/logger"
)

var (
	// AppName is the name of the application
	AppName = "gitd"

	// DefaultDataDir is the path to the data directory
	DefaultDataDir = os.ExpandEnv("$HOME/." + AppName)

	// AppEnvPrefix is used as the prefix for environment variables
	AppEnvPrefix = strings.ToUpper(AppName)

	// DefaultBranch is the branch a newly provisioned repository's
	// HEAD points at.
	DefaultBranch = "main"

	// DefaultListenAddr is the default transfer protocol listening
	// address.
	DefaultListenAddr = ":9418"

	// DefaultHTTPAddr is the default HTTP API listening address.
	DefaultHTTPAddr = ":8081"
)

// setDefaultViperConfig sets default viper config values.
func setDefaultViperConfig() {
	viper.SetDefault("listen", DefaultListenAddr)
	viper.SetDefault("httpaddr", DefaultHTTPAddr)
	viper.SetDefault("loglevel", "info")
}

// Configure prepares the application configuration: viper setup, data
// directory creation, config file read/creation, and logger setup.
func Configure(cfg *AppConfig) {
	viper.SetEnvPrefix(AppEnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Construct the data directory, if not set in config
	dataDir := cfg.dataDir
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	_ = os.MkdirAll(dataDir, 0700)

	// Set viper configuration
	setDefaultViperConfig()
	viper.SetConfigName(AppName)
	viper.AddConfigPath(dataDir)
	viper.AddConfigPath(".")

	// Attempt to read the config file
	noConfigFile := false
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			noConfigFile = true
		} else {
			log.Fatalf("Failed to read config file: %s", err)
		}
	}

	// Create the config file if it doesn't exist
	if noConfigFile {
		viper.SetConfigType("yaml")
		if err := viper.WriteConfigAs(path.Join(dataDir, AppName+".yml")); err != nil {
			log.Fatalf("Failed to create config file: %s", err)
		}
	}

	// Read the config file into AppConfig if it exists
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Failed to unmarshal configuration file: %s", err)
	}
	cfg.dataDir = dataDir

	if cfg.RepoRoot == "" {
		cfg.RepoRoot = path.Join(dataDir, "repos")
	}
	_ = os.MkdirAll(cfg.RepoRoot, 0700)

	// The DATABASE_URL environment variable wins over the config file.
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
	}

	setupLogger(cfg)
}

// setupLogger creates the shared logger with file rotation enabled
// under <datadir>/logs.
func setupLogger(cfg *AppConfig) {
	logPath := path.Join(cfg.DataDir(), "logs")
	_ = os.MkdirAll(logPath, 0700)
	logFile := path.Join(logPath, "main.log")
	cfg.g.Log = logger.NewLogrusWithFileRotation(logFile, logger.ParseLevel(cfg.LogLevel))

	if cfg.LogLevel == "debug" {
		cfg.g.Log.SetToDebug()
	}
}
