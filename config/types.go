package config

import (
	"github.com/makeos-kit/gitd/pkgs/logger"
)

// VersionInfo describes the client's build and runtime version
// information.
type VersionInfo struct {
	BuildVersion string `json:"buildVersion" mapstructure:"buildVersion"`
	BuildCommit  string `json:"buildCommit" mapstructure:"buildCommit"`
	BuildDate    string `json:"buildDate" mapstructure:"buildDate"`
	GoVersion    string `json:"goVersion" mapstructure:"goVersion"`
}

// Globals holds references to shared objects that follow the config
// handle around, so components don't each rebuild them.
type Globals struct {
	Log logger.Logger
}

// AppConfig is the application configuration, loaded by Configure from
// flags, environment and the optional config file.
type AppConfig struct {

	// RepoRoot is the directory hosted repositories live under.
	RepoRoot string `json:"reporoot" mapstructure:"reporoot"`

	// ListenAddr is the transfer protocol's listening address.
	ListenAddr string `json:"listen" mapstructure:"listen"`

	// HTTPAddr is the pull-request HTTP API's listening address.
	HTTPAddr string `json:"httpaddr" mapstructure:"httpaddr"`

	// DatabaseURL is the PostgreSQL URL for the pull-request store.
	// The DATABASE_URL environment variable takes precedence (§6).
	DatabaseURL string `json:"databaseurl" mapstructure:"databaseurl"`

	// LogLevel sets the logger's verbosity.
	LogLevel string `json:"loglevel" mapstructure:"loglevel"`

	// VersionInfo holds version information
	VersionInfo *VersionInfo `json:"-" mapstructure:"-"`

	// dataDir is where the config file and logs are stored
	dataDir string

	// g stores references to global objects that can be used anywhere
	// a config is required.
	g Globals
}

// EmptyAppConfig returns an unconfigured AppConfig.
func EmptyAppConfig() *AppConfig {
	return &AppConfig{VersionInfo: &VersionInfo{}}
}

// G returns the global object bundle.
func (c *AppConfig) G() *Globals { return &c.g }

// DataDir returns the application's data directory.
func (c *AppConfig) DataDir() string { return c.dataDir }

// SetDataDir sets the application's data directory.
func (c *AppConfig) SetDataDir(d string) { c.dataDir = d }
