package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

type SandboxConfig struct {
	Memory    string `mapstructure:"memory"`
	CPUs      string `mapstructure:"cpus"`
	PidsLimit int    `mapstructure:"pids_limit"`
	Network   bool   `mapstructure:"network"`
}

type SweeperConfig struct {
	FastInterval time.Duration `mapstructure:"fast_interval"`
	DeepInterval time.Duration `mapstructure:"deep_interval"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	StaleTimeout time.Duration `mapstructure:"stale_timeout"`
}

type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

type LanguagesConfig struct {
	File string `mapstructure:"file"` // optional YAML table merged over the built-ins
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Languages LanguagesConfig `mapstructure:"languages"`
}

// Load reads coderoom.yaml from the working directory or ~/.coderoom,
// falling back to defaults when no file exists. A .env file, if present,
// is loaded into the environment first.
func Load() (*Config, error) {
	godotenv.Load()

	v := viper.New()
	v.SetConfigName("coderoom")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.coderoom")
	v.SetEnvPrefix("coderoom")
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("workspace.root", filepath.Join(os.TempDir(), "coderoom-workspaces"))
	v.SetDefault("sandbox.memory", "256m")
	v.SetDefault("sandbox.cpus", "1")
	v.SetDefault("sandbox.pids_limit", 128)
	v.SetDefault("sandbox.network", false)
	v.SetDefault("sweeper.fast_interval", 15*time.Second)
	v.SetDefault("sweeper.deep_interval", 120*time.Second)
	v.SetDefault("sweeper.idle_timeout", 30*time.Second)
	v.SetDefault("sweeper.stale_timeout", 120*time.Second)
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".coderoom", "history.db"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
