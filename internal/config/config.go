package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MaxChunkLimit is the platform's hard limit on message content length.
const MaxChunkLimit = 2000

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	KafkaBrokers     []string
	KafkaTopicTicket string

	Discord struct {
		Token              string
		GuildID            string
		AdminRoleID        string
		ClaimOverrideRoles []string
	}

	TicketTypesFile   string
	TranscriptDir     string
	TranscriptBaseURL string
	// TranscriptKey signs transcript links; empty serves them to anyone with the name.
	TranscriptKey string

	Relay struct {
		ChunkLimit        int
		AllowedExtensions []string
	}

	Intake struct {
		QuestionTimeout time.Duration
		RetryAttempts   int
		RetryBackoff    time.Duration
		CancelKeyword   string
	}

	CloseGraceDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:           getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:          firstEnv("APP_PORT", "HTTP_PORT", "8097"),
		AppEnv:            getEnv("APP_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		KafkaBrokers:      splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicTicket:  getEnv("KAFKA_TOPIC_TICKET", "support.tickets"),
		TicketTypesFile:   getEnv("TICKET_TYPES_FILE", "config/ticket_types.yaml"),
		TranscriptDir:     getEnv("TRANSCRIPT_DIR", "transcripts"),
		TranscriptBaseURL: strings.TrimRight(getEnv("TRANSCRIPT_BASE_URL", ""), "/"),
		TranscriptKey:     getEnv("TRANSCRIPT_SIGNING_KEY", ""),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "support_bot")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Discord.Token = getEnv("DISCORD_TOKEN", "")
	cfg.Discord.GuildID = getEnv("DISCORD_GUILD_ID", "")
	cfg.Discord.AdminRoleID = getEnv("ADMIN_ROLE_ID", "")
	cfg.Discord.ClaimOverrideRoles = splitList(getEnv("CLAIM_OVERRIDE_ROLES", ""))

	cfg.Relay.AllowedExtensions = splitList(getEnv("ALLOWED_EXTENSIONS", "png,jpg,jpeg,gif,webp,txt,log,pdf,mp4,mov"))
	cfg.Intake.CancelKeyword = getEnv("CANCEL_KEYWORD", "cancel")

	var err error
	if cfg.Relay.ChunkLimit, err = getInt("RELAY_CHUNK_LIMIT", MaxChunkLimit); err != nil {
		return nil, err
	}
	if cfg.Intake.RetryAttempts, err = getInt("DM_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.Intake.QuestionTimeout, err = getDuration("INTAKE_QUESTION_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Intake.RetryBackoff, err = getDuration("DM_RETRY_BACKOFF", time.Second); err != nil {
		return nil, err
	}
	if cfg.CloseGraceDelay, err = getDuration("CLOSE_GRACE_DELAY", time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.Relay.ChunkLimit <= 0 || c.Relay.ChunkLimit > MaxChunkLimit {
		return fmt.Errorf("config: RELAY_CHUNK_LIMIT must be in 1..%d", MaxChunkLimit)
	}
	if c.Intake.RetryAttempts < 1 {
		return errors.New("config: DM_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Intake.QuestionTimeout <= 0 {
		return errors.New("config: INTAKE_QUESTION_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.Intake.CancelKeyword) == "" {
		return errors.New("config: CANCEL_KEYWORD must not be empty")
	}
	return nil
}

// ValidateBot checks the settings only the bot process needs.
func (c *Config) ValidateBot() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Discord.Token == "" || c.Discord.GuildID == "" {
		return errors.New("config: DISCORD_TOKEN and DISCORD_GUILD_ID are required")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

// splitList разбивает "a,b, c" на слайс без пустых элементов.
func splitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
