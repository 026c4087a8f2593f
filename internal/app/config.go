package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

const (
	STTDeepgram = "deepgram"
	STTGoogle   = "google"
	STTManual   = "manual"
)

type Config struct {
	HTTPAddr    string        `env:"HTTP_ADDR" envDefault:":8080"`
	Env         string        `env:"ENV" envDefault:"production"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName string        `env:"SERVICE_NAME" envDefault:"live-translation-display"`
	DatabaseURL string        `env:"DATABASE_URL"`
	SentryDSN   string        `env:"SENTRY_DSN"`
	Shutdown    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Speech recognition
	STTProvider     string `env:"STT_PROVIDER" envDefault:"deepgram"`
	AudioEncoding   string `env:"AUDIO_ENCODING" envDefault:"linear16"`
	AudioSampleRate int    `env:"AUDIO_SAMPLE_RATE" envDefault:"16000"`

	DeepgramAPIKey        string `env:"DEEPGRAM_API_KEY"`
	DeepgramModel         string `env:"DEEPGRAM_MODEL" envDefault:"nova-3"`
	DeepgramEndpointingMs int    `env:"DEEPGRAM_ENDPOINTING_MS" envDefault:"300"`

	GoogleCloudProjectID       string            `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string            `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string            `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string            `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`
	GoogleCloudLanguageCodes   map[string]string `env:"GOOGLE_CLOUD_SPEECH_LANGUAGE_CODES"`

	// Translation
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	// Rooms
	SourceLanguage       string   `env:"SOURCE_LANGUAGE" envDefault:"en"`
	DefaultLanguages     []string `env:"DEFAULT_LANGUAGES" envSeparator:","`
	LanguagesJSON        string   `env:"LANGUAGES_JSON"`
	StrictFallback       bool     `env:"STRICT_FALLBACK" envDefault:"false"`
	ContinuationMaxWords int      `env:"CONTINUATION_MAX_WORDS" envDefault:"1"`

	// Settings API
	JWTSecret    string `env:"JWT_SECRET"`
	SettingsFile string `env:"SETTINGS_FILE" envDefault:"settings.json"`

	// Displays
	DisplayBuffer int `env:"DISPLAY_BUFFER" envDefault:"256"`

	// Discord output
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`
	DiscordBotToken   string `env:"DISCORD_BOT_TOKEN"`
	DiscordChannelID  string `env:"DISCORD_CHANNEL_ID"`
}

// LoadConfigFromEnv parses and validates the process environment.
func LoadConfigFromEnv() (Config, error) {
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.STTProvider = strings.ToLower(strings.TrimSpace(c.STTProvider))
	c.SourceLanguage = strings.ToLower(strings.TrimSpace(c.SourceLanguage))
	langs := c.DefaultLanguages[:0]
	for _, l := range c.DefaultLanguages {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			langs = append(langs, l)
		}
	}
	c.DefaultLanguages = langs
}

func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.SourceLanguage == "" {
		return fmt.Errorf("SOURCE_LANGUAGE is required")
	}

	switch c.STTProvider {
	case STTDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	case STTGoogle:
		if c.GoogleCloudProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID is required when STT_PROVIDER=google")
		}
		if c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_CREDENTIALS_JSON is required when STT_PROVIDER=google")
		}
	case STTManual:
	default:
		return fmt.Errorf("STT_PROVIDER must be one of %s, %s, %s; got %q", STTDeepgram, STTGoogle, STTManual, c.STTProvider)
	}

	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive, got %d", c.AudioSampleRate)
	}
	if c.ContinuationMaxWords < 1 {
		return fmt.Errorf("CONTINUATION_MAX_WORDS must be at least 1, got %d", c.ContinuationMaxWords)
	}
	if (c.DiscordBotToken == "") != (c.DiscordChannelID == "") {
		return fmt.Errorf("DISCORD_BOT_TOKEN and DISCORD_CHANNEL_ID must be set together")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Level returns the configured log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
