package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration shared by the CLI and the HTTP front-end.
type Config struct {
	// Directory holding manifest.yaml for an external module.
	// Empty uses the bundled module.
	ModuleDir      string `mapstructure:"module_dir"`
	LogLevel       string `mapstructure:"log_level"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	// HTTP port. Zero evaluates expressions and exits.
	Port int        `mapstructure:"port"`
	Wasm WasmConfig `mapstructure:"wasm"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Keep debug info in Wasm stack traces.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum concurrent instances.
	MaxInstances int `mapstructure:"max_instances"`
	// Upper bound on module initialization.
	InitTimeout time.Duration `mapstructure:"init_timeout"`
}

// Load reads configuration from defaults, an optional file and
// CALC_-prefixed environment variables (CALC_WASM_CACHE_DIR, ...).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("module_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("port", 0)

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 100)
	v.SetDefault("wasm.init_timeout", "10s")

	v.SetEnvPrefix("calc")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
