package config

import (
	"log"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config carries everything telemetryd needs at startup. Platform metadata is
// injected here rather than read from ambient globals so the payload builder
// stays a pure function of its inputs.
type Config struct {
	DBPath   string `koanf:"db_path"`
	HTTPAddr string `koanf:"http_addr"`

	Temporal TemporalConfig `koanf:"temporal"`
	Report   ReportConfig   `koanf:"report"`
	Platform PlatformConfig `koanf:"platform"`
}

type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
}

type ReportConfig struct {
	// Endpoint receives the weekly usage payload.
	Endpoint string `koanf:"endpoint"`
	// Disabled forces the opt-out regardless of the stored setting.
	Disabled bool          `koanf:"disabled"`
	Timeout  time.Duration `koanf:"timeout"`
}

type PlatformConfig struct {
	SiteURL           string `koanf:"site_url"`
	PlatformVersion   string `koanf:"platform_version"`
	PlatformDBVersion string `koanf:"platform_db_version"`
	ExtensionVersion  string `koanf:"extension_version"`
}

// Default returns the baseline configuration before file/env overrides.
func Default() Config {
	return Config{
		DBPath:   "telemetryd.db",
		HTTPAddr: ":8080",
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
		},
		Report: ReportConfig{
			Endpoint: "https://telemetry.harvestcrm.dev/usage/v1/telemetry",
			Timeout:  45 * time.Second,
		},
		Platform: PlatformConfig{
			SiteURL: "https://localhost",
		},
	}
}

// Load reads configuration with koanf: defaults, then an optional config.toml,
// then environment variables (TELEMETRYD_TEMPORAL__HOST_PORT style, __ mapping
// to nesting).
func Load() Config {
	return Provide(Default())
}

// Provide layers file and environment sources on top of the given defaults.
func Provide(def Config) Config {
	k := koanf.New(".")

	var instance Config

	if err := k.Load(structs.Provider(def, "koanf"), nil); err != nil {
		log.Fatalf("error loading default config: %s", err)
	}

	if err := k.Load(file.Provider("config.toml"), toml.Parser()); err != nil {
		log.Printf("config.toml not loaded: %s", err)
	}

	if err := k.Load(
		env.Provider("TELEMETRYD_", ".", func(source string) string {
			base := strings.ToLower(strings.TrimPrefix(source, "TELEMETRYD_"))
			return strings.ReplaceAll(base, "__", ".")
		}),
		nil,
	); err != nil {
		log.Printf("error loading environment variables: %s", err)
	}

	if err := k.Unmarshal("", &instance); err != nil {
		log.Fatalf("error un-marshalling config: %s", err)
	}

	return instance
}
