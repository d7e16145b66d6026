// Package config loads the relay's Config record: quic_port,
// http_port, authorization_uri and log_level, from a JSON or YAML file
// if one is present, otherwise from environment variables.
package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LogLevel is the relay's log level enum:
// trace,debug,info,warn,error,critical,none.
type LogLevel string

const (
	LogLevelTrace    LogLevel = "trace"
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarn     LogLevel = "warn"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
	LogLevelNone     LogLevel = "none"
)

// Zerolog maps LogLevel onto zerolog's levels. "critical" maps to
// Fatal since zerolog has no separate critical level; "none" disables
// logging entirely.
func (l LogLevel) Zerolog() (zerolog.Level, error) {
	switch l {
	case LogLevelTrace:
		return zerolog.TraceLevel, nil
	case LogLevelDebug:
		return zerolog.DebugLevel, nil
	case LogLevelInfo, "":
		return zerolog.InfoLevel, nil
	case LogLevelWarn:
		return zerolog.WarnLevel, nil
	case LogLevelError:
		return zerolog.ErrorLevel, nil
	case LogLevelCritical:
		return zerolog.FatalLevel, nil
	case LogLevelNone:
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", l)
	}
}

// Config is the relay's external configuration record.
type Config struct {
	QuicPort         uint16   `json:"quic_port" yaml:"quic_port"`
	HTTPPort         uint16   `json:"http_port" yaml:"http_port"`
	AuthorizationURI string   `json:"authorization_uri" yaml:"authorization_uri"`
	LogLevel         LogLevel `json:"log_level" yaml:"log_level"`
}

// Validate reports whether the config is usable. Missing authorization
// URI, unset ports, and unrecognized log levels are all fatal.
func (c Config) Validate() error {
	if c.AuthorizationURI == "" {
		return fmt.Errorf("authorization_uri is required")
	}
	if c.QuicPort == 0 {
		return fmt.Errorf("quic_port is required")
	}
	if c.HTTPPort == 0 {
		return fmt.Errorf("http_port is required")
	}
	if _, err := c.LogLevel.Zerolog(); err != nil {
		return err
	}
	return nil
}
