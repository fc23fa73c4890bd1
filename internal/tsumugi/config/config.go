// Package config loads runtime configuration from environment variables.
//
// All helpers follow a consistent pattern: read a variable and return either
// the value or a default. Only credentials and connection strings are
// required; every numeric knob has a safe default so a minimal deployment
// needs nothing beyond the three secrets and the Redis URL.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the relay.
type Config struct {
	// RedisURL is the redis:// connection string for the persistent store.
	RedisURL string

	// Matrix holds chat-client credentials.
	MatrixHomeserver  string
	MatrixUserID      string
	MatrixAccessToken string
	// MatrixRooms is the list of room IDs the bot joins and listens in.
	MatrixRooms []string

	// OpenAIAPIKey is the bearer token for the completion API.
	OpenAIAPIKey string
	// OpenAIBaseURL overrides the API endpoint when non-empty.
	OpenAIBaseURL string

	// Model and sampling parameters for completion requests.
	Model           string
	Temperature     float64
	PresencePenalty float64
	// AnswerMaxTokens caps the generated completion length.
	AnswerMaxTokens int

	// PricePerKiloTokens is the dollar price per 1000 tokens used by the
	// spend approximation.
	PricePerKiloTokens float64
	// DailyDollarLimit is the spend ceiling per accounting day.
	DailyDollarLimit float64

	// HistoryEntryLimit caps the number of stored history messages per
	// persona (oldest dropped first).
	HistoryEntryLimit int
	// HistoryCharLimit is the total character budget for a completion
	// request's message contents. Characters, not tokens.
	HistoryCharLimit int
	// PromptMaxLength caps the user prompt's character length.
	PromptMaxLength int

	// ResetTime is the local wall-clock time ("HH:MM") of the daily spend
	// counter reset, interpreted in ResetLocation.
	ResetTime     string
	ResetLocation *time.Location

	// NoticeWebhookURL is the operations webhook for turn/error/reset
	// notifications. Empty disables notifications.
	NoticeWebhookURL string

	// PersonaSeedPath points at an optional YAML file of persona definitions
	// seeded into the store on startup. Empty disables seeding.
	PersonaSeedPath string

	// AuditDBPath is the SQLite file for the per-turn audit log.
	AuditDBPath string
}

// Load reads configuration from the environment. It returns an error for any
// missing required variable; unparseable optional values fall back to their
// defaults.
func Load() (*Config, error) {
	redisURL, err := required("REDIS_URL")
	if err != nil {
		return nil, err
	}
	apiKey, err := required("OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	homeserver, err := required("MATRIX_HOMESERVER")
	if err != nil {
		return nil, err
	}
	userID, err := required("MATRIX_USER_ID")
	if err != nil {
		return nil, err
	}
	accessToken, err := required("MATRIX_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}

	tzName := stringOr("RESET_TIMEZONE", "Asia/Tokyo")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid RESET_TIMEZONE %q: %w", tzName, err)
	}
	resetTime := stringOr("RESET_TIME", "00:00")
	if _, perr := time.Parse("15:04", resetTime); perr != nil {
		return nil, fmt.Errorf("invalid RESET_TIME %q: %w", resetTime, perr)
	}

	return &Config{
		RedisURL:          redisURL,
		MatrixHomeserver:  homeserver,
		MatrixUserID:      userID,
		MatrixAccessToken: accessToken,
		MatrixRooms:       stringSlice("MATRIX_ROOMS"),

		OpenAIAPIKey:  apiKey,
		OpenAIBaseURL: stringOr("OPENAI_BASE_URL", ""),

		Model:           stringOr("OPENAI_MODEL", "gpt-3.5-turbo"),
		Temperature:     floatOr("OPENAI_TEMPERATURE", 1.1),
		PresencePenalty: floatOr("OPENAI_PRESENCE_PENALTY", -0.3),
		AnswerMaxTokens: intOr("OPENAI_CHAT_GPT_ANSWER_MAX_TOKEN", 512),

		PricePerKiloTokens: floatOr("OPENAI_CHAT_GPT_DOLLAR_PER_1K_TOKEN", 0.002),
		DailyDollarLimit:   floatOr("OPENAI_DOLLAR_LIMIT_PER_DAY", 0.5),

		HistoryEntryLimit: intOr("OPENAI_CHAT_HISTORY_LIMIT", 10),
		HistoryCharLimit:  intOr("OPENAI_CHAT_STRING_LENGTH_LIMIT", 1000),
		PromptMaxLength:   intOr("OPENAI_CHAT_PROMPT_LENGTH_LIMIT", 200),

		ResetTime:     resetTime,
		ResetLocation: loc,

		NoticeWebhookURL: stringOr("NOTICE_WEBHOOK_URL", ""),
		PersonaSeedPath:  stringOr("PERSONA_SEED_PATH", ""),
		AuditDBPath:      stringOr("AUDIT_DB_PATH", "./tsumugi.db"),
	}, nil
}

// required returns the value of the named environment variable or an error
// if it is unset or empty.
func required(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// stringOr returns the variable's value, or defaultValue if unset or empty.
func stringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// intOr parses the variable as a decimal integer, falling back to
// defaultValue if unset, empty, or unparseable.
func intOr(name string, defaultValue int) int {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// floatOr parses the variable as a float, falling back to defaultValue if
// unset, empty, or unparseable.
func floatOr(name string, defaultValue float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// stringSlice parses the variable as a comma-separated list, trimming
// whitespace from each element. Returns nil when unset or empty.
func stringSlice(name string) []string {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
