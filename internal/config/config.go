package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Notification channel names.
const (
	ChannelWebhook = "webhook"
	ChannelSNS     = "sns"
	ChannelSES     = "ses"
	ChannelLog     = "log"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Due-reminder sweep
	SweepInterval time.Duration

	// Notification channel
	NotifyChannel string // webhook, sns, ses, or log
	NotifyURL     string // webhook endpoint
	NotifyTimeout time.Duration

	// AWS (sns/ses channels)
	AWSRegion    string
	SESFromEmail string

	// Time resolution
	ResolveBias string // "future" or "none"

	// Calendar mirroring
	CalDAVURL         string
	CalendarTimeout   time.Duration
	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthRedirectURL  string
	OAuthScopes       []string
}

// Load reads configuration from the environment (and a local .env file when
// present) with sensible defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "tickler",
		DBPassword: "",
		DBName:     "tickler",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		SweepInterval: 60 * time.Second,
		NotifyTimeout: 5 * time.Second,
		NotifyChannel: "",

		AWSRegion:    "us-east-1",
		SESFromEmail: "reminders@tickler.local",

		ResolveBias: "future",

		CalendarTimeout: 10 * time.Second,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Sweep config
	if interval := os.Getenv("SWEEP_INTERVAL_SECONDS"); interval != "" {
		s, err := strconv.Atoi(interval)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL_SECONDS: %q", interval)
		}
		cfg.SweepInterval = time.Duration(s) * time.Second
	}

	// Notification config
	if url := os.Getenv("NOTIFY_URL"); url != "" {
		cfg.NotifyURL = url
	}

	if timeout := os.Getenv("NOTIFY_TIMEOUT_SECONDS"); timeout != "" {
		s, err := strconv.Atoi(timeout)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid NOTIFY_TIMEOUT_SECONDS: %q", timeout)
		}
		cfg.NotifyTimeout = time.Duration(s) * time.Second
	}

	if channel := os.Getenv("NOTIFY_CHANNEL"); channel != "" {
		switch channel {
		case ChannelWebhook, ChannelSNS, ChannelSES, ChannelLog:
			cfg.NotifyChannel = channel
		default:
			return nil, fmt.Errorf("invalid NOTIFY_CHANNEL: %q", channel)
		}
	} else if cfg.NotifyURL != "" {
		cfg.NotifyChannel = ChannelWebhook
	} else {
		cfg.NotifyChannel = ChannelLog
	}

	if cfg.NotifyChannel == ChannelWebhook && cfg.NotifyURL == "" {
		return nil, fmt.Errorf("NOTIFY_URL is required for the webhook channel")
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// Resolver config
	if bias := os.Getenv("RESOLVE_BIAS"); bias != "" {
		if bias != "future" && bias != "none" {
			return nil, fmt.Errorf("invalid RESOLVE_BIAS: %q (want future or none)", bias)
		}
		cfg.ResolveBias = bias
	}

	// Calendar config
	if url := os.Getenv("CALDAV_URL"); url != "" {
		cfg.CalDAVURL = url
	}

	if timeout := os.Getenv("CALENDAR_TIMEOUT_SECONDS"); timeout != "" {
		s, err := strconv.Atoi(timeout)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid CALENDAR_TIMEOUT_SECONDS: %q", timeout)
		}
		cfg.CalendarTimeout = time.Duration(s) * time.Second
	}

	cfg.OAuthClientID = os.Getenv("OAUTH_CLIENT_ID")
	cfg.OAuthClientSecret = os.Getenv("OAUTH_CLIENT_SECRET")
	cfg.OAuthAuthURL = os.Getenv("OAUTH_AUTH_URL")
	cfg.OAuthTokenURL = os.Getenv("OAUTH_TOKEN_URL")
	cfg.OAuthRedirectURL = os.Getenv("OAUTH_REDIRECT_URL")

	if scopes := os.Getenv("OAUTH_SCOPES"); scopes != "" {
		cfg.OAuthScopes = strings.Split(scopes, ",")
	}

	return cfg, nil
}
