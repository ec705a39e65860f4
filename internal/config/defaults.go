package config

// Defaults returns the documented default configuration.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		BotIdentity: BotIdentityConfig{
			BotName: "ChatRelay",
		},
		Scheduler: SchedulerConfig{
			SilenceSeconds:     8,
			MaxQueueSize:       10,
			MaxQueueAgeSeconds: 30,
		},
		Stamina: StaminaConfig{
			SMax:            100,
			K:               1,
			P:               1,
			Alpha:           0.5,
			Beta:            0.1,
			Gamma:           0.4,
			R:               5,
			RegenIntervalMS: 1000,
			LowThresh:       30,
			CriticalThresh:  10,
			RestMode:        false,
		},
		LLM: LLMConfig{
			Backend:     "openai",
			Model:       "gpt-4o-mini",
			MaxAttempts: 3,
			BaseDelayMS: 1000,
			CapDelayMS:  10000,
		},
		TaskRunner: TaskRunnerConfig{
			MaxAttempts: 3,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "~/.chatrelay/audit.db",
		},
	}
}
