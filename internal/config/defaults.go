package config

const (
	defaultDataDir   = "~/.local/share/serialreel"
	defaultLogDir    = "~/.local/share/serialreel/logs"
	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	defaultScraperBaseURL        = "https://telugu.hindustantimes.com/topic/telugu-tv-serials/news"
	defaultScraperRequestTimeout = 30

	defaultFFmpegBinary  = "ffmpeg"
	defaultRenderTimeout = 1800

	defaultTokenURL      = "https://oauth2.googleapis.com/token"
	defaultUploadURL     = "https://www.googleapis.com/upload/youtube/v3/videos"
	defaultUploadTimeout = 3600
	defaultPrivacyStatus = "public"

	defaultMaxAttempts              = 3
	defaultBackoffBaseSeconds       = 60
	defaultBackoffCapSeconds        = 1800
	defaultQuotaCooldownSeconds     = 3600
	defaultWorkerCount              = 2
	defaultTokenSafetyMarginSeconds = 60

	defaultSerialIntervalSeconds = 600
	defaultSweepIntervalSeconds  = 3600
	defaultRetentionDays         = 2

	defaultLogRetentionDays  = 5
	defaultNotifyTimeoutSecs = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		DataDir: defaultDataDir,
		LogDir:  defaultLogDir,
		Scraper: Scraper{
			BaseURL:        defaultScraperBaseURL,
			RequestTimeout: defaultScraperRequestTimeout,
		},
		Renderer: Renderer{
			FFmpegBinary:  defaultFFmpegBinary,
			RenderTimeout: defaultRenderTimeout,
		},
		YouTube: YouTube{
			TokenURL:      defaultTokenURL,
			UploadURL:     defaultUploadURL,
			UploadTimeout: defaultUploadTimeout,
			PrivacyStatus: defaultPrivacyStatus,
		},
		Pipeline: Pipeline{
			MaxAttempts:              defaultMaxAttempts,
			BackoffBaseSeconds:       defaultBackoffBaseSeconds,
			BackoffCapSeconds:        defaultBackoffCapSeconds,
			QuotaCooldownSeconds:     defaultQuotaCooldownSeconds,
			WorkerCount:              defaultWorkerCount,
			TokenSafetyMarginSeconds: defaultTokenSafetyMarginSeconds,
		},
		Scheduler: Scheduler{
			SerialIntervalSeconds: defaultSerialIntervalSeconds,
			SweepIntervalSeconds:  defaultSweepIntervalSeconds,
			RetentionDays:         defaultRetentionDays,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeoutSecs,
		},
	}
}
