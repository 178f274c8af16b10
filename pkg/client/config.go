// Package client is a thin SDK over the control plane's HTTP surface, used
// by cmd/agentboardctl and any other Go caller that wants to drive Runs
// without hand-rolling HTTP requests.
package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the CLI-side configuration layered the same way the daemon's
// own config is: environment variables, a project-tracked file, then an
// untracked local override, each able to shadow the one before it.
type Config struct {
	BaseURL string `mapstructure:"baseUrl"`

	v *viper.Viper
}

const (
	EnvPrefix  = "CLIBOARD"
	ConfigRoot = ".cliboard"

	BaseURLKey = "baseUrl"
)

// LoadConfig builds a Config from its own viper instance — no global state,
// so multiple Configs can coexist in the same process (e.g. in tests).
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("client: read config file %s: %w", cfgFile, err)
		}
	} else {
		for _, name := range []string{"cliboard.yaml", "cliboard.yml", ".cliboard.yaml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}

		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("client: merge local config: %w", err)
			}
		}
	}

	if !v.IsSet(BaseURLKey) {
		v.SetDefault(BaseURLKey, "http://127.0.0.1:8080")
	} else {
		v.Set(BaseURLKey, strings.TrimRight(v.GetString(BaseURLKey), "/"))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("client: unmarshal config: %w", err)
	}
	cfg.v = v
	return &cfg, nil
}

// Viper returns the underlying viper instance for CLI flag binding.
func (c *Config) Viper() *viper.Viper {
	return c.v
}
