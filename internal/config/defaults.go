package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			WorkDir:   "~/.spacecatcher/downloads",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Host:              "",
			Port:              3000,
			EventsPath:        "/slack/events",
			AsyncProcessing:   false,
			MaxConcurrentJobs: 2,
		},
		Slack: SlackConfig{
			BotToken: "${SLACK_BOT_TOKEN}",
		},
		Fetcher: FetcherConfig{
			Binary:         "yt-dlp",
			AudioFormat:    "mp3",
			TimeoutSeconds: 1800,
		},
		Dedup: DedupConfig{
			Capacity: 100,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Housekeeping: HousekeepingConfig{
			Enabled:       true,
			Schedule:      "@every 1h",
			MaxAgeMinutes: 360,
		},
	}
}
