// Package config defines the jobd runtime configuration.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all jobd settings. Values come from flags, environment
// variables (JOBD_*), or an optional config file, resolved through viper.
type Config struct {
	// DatabasePath is the SQLite database file ("jobd.db" by default).
	DatabasePath string `mapstructure:"database_path"`

	// ListenAddr is the HTTP API listen address.
	ListenAddr string `mapstructure:"listen_addr"`

	// ScriptsDir is the directory job scripts live under. Relative script
	// paths on jobs are resolved against it.
	ScriptsDir string `mapstructure:"scripts_dir"`

	// Interpreter runs job scripts (argv[0]; the script path is argv[1]).
	Interpreter string `mapstructure:"interpreter"`

	// ExecTimeout is the hard wall-clock ceiling on a single execution.
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`

	// KillGrace is how long a process gets between SIGTERM and SIGKILL,
	// both on timeout and on coordinator-initiated termination.
	KillGrace time.Duration `mapstructure:"kill_grace"`

	// JSONLogs selects structured JSON log output.
	JSONLogs bool `mapstructure:"json_logs"`

	// Debug lowers the log level to debug.
	Debug bool `mapstructure:"debug"`
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database_path", "jobd.db")
	v.SetDefault("listen_addr", ":5000")
	v.SetDefault("scripts_dir", "scripts")
	v.SetDefault("interpreter", "python3")
	v.SetDefault("exec_timeout", time.Hour)
	v.SetDefault("kill_grace", 5*time.Second)
	v.SetDefault("json_logs", false)
	v.SetDefault("debug", false)
}

// Load resolves the configuration from the given viper instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
