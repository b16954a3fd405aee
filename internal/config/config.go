package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	ServerURL               string `mapstructure:"server_url"`
	PrivilegedEmail         string `mapstructure:"privileged_email"`
	ClientID                string `mapstructure:"client_id"`
	LogLevel                string `mapstructure:"log_level"`
	LogFormat               string `mapstructure:"log_format"`
	BootstrapTimeoutSeconds int    `mapstructure:"bootstrap_timeout_seconds"`
	MarkReadWorkers         int    `mapstructure:"mark_read_workers"`
	MarkReadQueueSize       int    `mapstructure:"mark_read_queue_size"`
}

func Default() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		BootstrapTimeoutSeconds: 15,
		MarkReadWorkers:         2,
		MarkReadQueueSize:       64,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("client")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(Dir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("NUTRIKIT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("server_url", cfg.ServerURL)
	viper.Set("privileged_email", cfg.PrivilegedEmail)
	viper.Set("client_id", cfg.ClientID)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("bootstrap_timeout_seconds", cfg.BootstrapTimeoutSeconds)
	viper.Set("mark_read_workers", cfg.MarkReadWorkers)
	viper.Set("mark_read_queue_size", cfg.MarkReadQueueSize)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(Dir(), "client.yaml")
		if err := os.MkdirAll(Dir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// Dir returns the per-OS directory holding the config file and the
// credential store.
func Dir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("AppData"), "Nutrikit")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Nutrikit")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "nutrikit")
	}
}
