// Package config defines the bot's configuration structure. Configuration is
// loaded once at process startup and is immutable thereafter, following
// 12-Factor principles: all values come from the environment (with an
// optional .env file for local development).
//
// Any missing required value or invalid format aborts startup immediately
// (fail fast).
package config

import "time"

// Config is the top-level configuration struct. It is populated once during
// startup and never modified. Sub-components receive only the specific
// config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Database DatabaseConfig
	Discord  DiscordConfig
	Queue    QueueConfig
	Server   ServerConfig
}

// DatabaseConfig holds PostgreSQL connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// DiscordConfig holds the bot token and the guild resources the command
// handlers and the birthday notifier post to.
type DiscordConfig struct {
	BotToken string `envconfig:"DISCORD_BOT_TOKEN" validate:"required"`
	// GuildID scopes slash-command registration. Empty registers globally,
	// which Discord propagates with up to an hour of delay; set it for
	// development.
	GuildID string `envconfig:"DISCORD_GUILD_ID"`

	BirthdayChannelID   string `envconfig:"CHAT_CHANNEL_ID" validate:"required"`
	AdmissionsChannelID string `envconfig:"ADMISSIONS_CHANNEL_ID" validate:"required"`
	UnknownRoleID       string `envconfig:"UNKNOWN_ROLE_ID" validate:"required"`
	MemberRoleID        string `envconfig:"MEMBER_ROLE_ID" validate:"required"`
	GuestRoleID         string `envconfig:"GUEST_ROLE_ID" validate:"required"`

	// GifDir is the root of the interaction gif assets, one subdirectory
	// per interaction kind (assets/bonk, assets/boop, ...).
	GifDir string `envconfig:"GIF_DIR" default:"./assets"`
}

// QueueConfig tunes the durable job queue worker.
type QueueConfig struct {
	PollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"15s"`
	Concurrency  int           `envconfig:"QUEUE_CONCURRENCY" default:"4" validate:"min=1"`
	// VisibilityTimeout bounds how long a claimed job may stay active before
	// the reaper returns it to the pending state after a crash.
	VisibilityTimeout time.Duration `envconfig:"QUEUE_VISIBILITY_TIMEOUT" default:"15m"`
	// Retention bounds how long completed and failed jobs are kept before
	// pruning.
	Retention time.Duration `envconfig:"QUEUE_RETENTION" default:"336h"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrParsing indicates a failure when parsing environment variable
	// values into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)
