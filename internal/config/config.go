package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Discord  DiscordConfig
	Tickets  TicketsConfig
}

// AppConfig controls the admin HTTP server.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values. An empty DSN disables the audit store.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis-backed parts.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Stream    string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines admin API authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	AdminUsername         string
	AdminPasswordHash     string
	ViewerUsername        string
	ViewerPasswordHash    string
	BcryptCost            int
}

// DiscordConfig holds the bot credentials.
type DiscordConfig struct {
	Token         string
	ApplicationID string
	GuildID       string
}

// TicketsConfig is the configuration surface consumed by the ticket engine.
type TicketsConfig struct {
	AdminRoleIDs          []string
	AdminUserIDs          []string
	ParentCategoryID      string
	LogChannelID          string
	StaffPing             string
	AutoCloseHours        int
	SweepIntervalMinutes  int
	ConfirmTimeoutMinutes int
	TranscriptMaxMessages int
	ActivityDebounceSecs  int
	DeleteDelaySeconds    int
	CategoriesFile        string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	autoClose := getEnvAsInt("TICKET_AUTO_CLOSE_HOURS", 0)
	if autoClose < 0 {
		return nil, fmt.Errorf("invalid TICKET_AUTO_CLOSE_HOURS: must be 0 or greater")
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticketbot"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "ticketbot"),
			Stream:    getEnv("REDIS_EVENT_STREAM", "ticketbot.events"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			AdminUsername:         getEnv("AUTH_ADMIN_USERNAME", "admin"),
			AdminPasswordHash:     os.Getenv("AUTH_ADMIN_PASSWORD_HASH"),
			ViewerUsername:        os.Getenv("AUTH_VIEWER_USERNAME"),
			ViewerPasswordHash:    os.Getenv("AUTH_VIEWER_PASSWORD_HASH"),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Discord: DiscordConfig{
			Token:         os.Getenv("DISCORD_TOKEN"),
			ApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
			GuildID:       os.Getenv("DISCORD_GUILD_ID"),
		},
		Tickets: TicketsConfig{
			AdminRoleIDs:          getEnvAsList("TICKET_ADMIN_ROLE_IDS"),
			AdminUserIDs:          getEnvAsList("TICKET_ADMIN_USER_IDS"),
			ParentCategoryID:      os.Getenv("TICKET_CATEGORY_ID"),
			LogChannelID:          os.Getenv("TICKET_LOG_CHANNEL_ID"),
			StaffPing:             os.Getenv("TICKET_STAFF_PING"),
			AutoCloseHours:        autoClose,
			SweepIntervalMinutes:  getEnvAsInt("TICKET_SWEEP_INTERVAL_MINUTES", 60),
			ConfirmTimeoutMinutes: getEnvAsInt("TICKET_CONFIRM_TIMEOUT_MINUTES", 60),
			TranscriptMaxMessages: getEnvAsInt("TICKET_TRANSCRIPT_MAX_MESSAGES", 1000),
			ActivityDebounceSecs:  getEnvAsInt("TICKET_ACTIVITY_DEBOUNCE_SECONDS", 600),
			DeleteDelaySeconds:    getEnvAsInt("TICKET_DELETE_DELAY_SECONDS", 5),
			CategoriesFile:        os.Getenv("TICKET_CATEGORIES_FILE"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AutoCloseThreshold returns the idle threshold; zero disables auto-close.
func (t TicketsConfig) AutoCloseThreshold() time.Duration {
	return time.Duration(t.AutoCloseHours) * time.Hour
}

// SweepInterval returns how often the inactivity sweeper runs.
func (t TicketsConfig) SweepInterval() time.Duration {
	if t.SweepIntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(t.SweepIntervalMinutes) * time.Minute
}

// ConfirmTimeout returns how long a close-confirmation prompt stays live.
func (t TicketsConfig) ConfirmTimeout() time.Duration {
	if t.ConfirmTimeoutMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(t.ConfirmTimeoutMinutes) * time.Minute
}

// ActivityDebounce returns the minimum spacing between activity writes.
func (t TicketsConfig) ActivityDebounce() time.Duration {
	if t.ActivityDebounceSecs < 0 {
		return 0
	}
	return time.Duration(t.ActivityDebounceSecs) * time.Second
}

// DeleteDelay returns the pause between the closing notice and channel deletion.
func (t TicketsConfig) DeleteDelay() time.Duration {
	if t.DeleteDelaySeconds <= 0 {
		return 0
	}
	return time.Duration(t.DeleteDelaySeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
