// internal/logger/config.go

package logger

type Config struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`        // empty disables the file sink
	MaxSize     int    `mapstructure:"max_size"`    // megabytes
	MaxAge      int    `mapstructure:"max_age"`     // days
	MaxBackups  int    `mapstructure:"max_backups"` // rotated files kept
	Compress    bool   `mapstructure:"compress"`
	Development bool   `mapstructure:"development"`
	Color       bool   `mapstructure:"color"` // colored levels on stdout
}

// DefaultConfig returns the defaults used when no log section is configured.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		File:       "solver-engine.log",
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	}
}
