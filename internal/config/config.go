package config

import (
	"fmt"
	"os"
	"strconv"
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

	// Redis (rate limiting + idempotent log creation)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Email dispatch (SES)
	AWSRegion    string
	SESFromEmail string

	// Chat dispatch
	ChatTimeout int // seconds per chat webhook request

	// Dispatch queue; when set, notification jobs are enqueued to SQS
	// after commit instead of being sent in-process.
	DispatchQueueURL string
	DispatchRegion   string

	// DispatchTimeout bounds the whole post-commit dispatch, seconds.
	DispatchTimeout int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "shiftlog",
		DBPassword: "",
		DBName:     "shiftlog",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "eu-central-1",
		SESFromEmail: "noreply@shiftlog.local",

		ChatTimeout:     10,
		DispatchTimeout: 15,
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

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if timeout := os.Getenv("CHAT_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid CHAT_TIMEOUT: %w", err)
		}
		cfg.ChatTimeout = t
	}

	if url := os.Getenv("DISPATCH_QUEUE_URL"); url != "" {
		cfg.DispatchQueueURL = url
	}

	if region := os.Getenv("DISPATCH_REGION"); region != "" {
		cfg.DispatchRegion = region
	} else {
		cfg.DispatchRegion = cfg.AWSRegion
	}

	if timeout := os.Getenv("DISPATCH_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_TIMEOUT: %w", err)
		}
		cfg.DispatchTimeout = t
	}

	return cfg, nil
}
