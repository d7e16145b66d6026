package config

// Default returns the relay's out-of-the-box config. Load starts here
// and overlays whatever the config file or environment supplied.
func Default() Config {
	return Config{
		QuicPort: 7788,
		HTTPPort: 7789,
		LogLevel: LogLevelInfo,
	}
}
