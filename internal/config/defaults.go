package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "127.0.0.1",
			Port:                   5000,
			WSPath:                 "/ws",
			ReadLimitBytes:         1 << 20,
			OriginPatterns:         []string{"chrome-extension://*", "moz-extension://*"},
			ShutdownTimeoutSeconds: 5,
		},
		Storage: StorageConfig{
			Path:              "~/.config/webchronicle",
			SQLiteFile:        "webchronicle.db",
			SQLiteJournalMode: "wal",
			BusyTimeoutMS:     5000,
		},
		Ingest: IngestConfig{
			FlushThreshold:      10,
			FlushOnSessionEnd:   true,
			FlushOnClose:        true,
			DefaultWindowWidth:  480,
			DefaultWindowHeight: 360,
			VisitRetries:        3,
		},
		Retention: RetentionConfig{
			Days: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "",
		},
	}
}
