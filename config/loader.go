package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EnvPrefix namespaces every environment variable the relay reads,
// e.g. RTC_SERVER_QUIC_PORT.
const EnvPrefix = "RTC_SERVER"

// Load reads a Config from path if it is non-empty and names an
// existing file, falling back to environment variables otherwise.
// Either way, missing fields are filled in from Default before
// Validate is checked.
func Load(path string) (*Config, error) {
	cfg := Default()

	useFile := path != ""
	if useFile {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			useFile = false
		}
	}

	if useFile {
		fromFile, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = merge(cfg, *fromFile)
	} else {
		fromEnv, err := loadEnv()
		if err != nil {
			return nil, err
		}
		cfg = merge(cfg, *fromEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// loadFile decodes cfg from a JSON or YAML file, chosen by extension.
// Any other extension is treated as JSON.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	}
	return &cfg, nil
}

// loadEnv reads the four config fields from RTC_SERVER_* environment
// variables via viper, leaving anything unset at its zero value so the
// caller can overlay the set fields onto Default.
func loadEnv() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	bindings := map[string]string{
		"quic_port":         "QUIC_PORT",
		"http_port":         "HTTP_PORT",
		"authorization_uri": "AUTH_URI",
		"log_level":         "LOG_LEVEL",
	}
	for key, suffix := range bindings {
		if err := v.BindEnv(key, EnvPrefix+"_"+suffix); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", suffix, err)
		}
	}

	return &Config{
		QuicPort:         uint16(v.GetUint32("quic_port")),
		HTTPPort:         uint16(v.GetUint32("http_port")),
		AuthorizationURI: v.GetString("authorization_uri"),
		LogLevel:         LogLevel(v.GetString("log_level")),
	}, nil
}

// merge overlays override's non-zero fields onto base.
func merge(base, override Config) Config {
	if override.QuicPort != 0 {
		base.QuicPort = override.QuicPort
	}
	if override.HTTPPort != 0 {
		base.HTTPPort = override.HTTPPort
	}
	if override.AuthorizationURI != "" {
		base.AuthorizationURI = override.AuthorizationURI
	}
	if override.LogLevel != "" {
		base.LogLevel = override.LogLevel
	}
	return base
}
