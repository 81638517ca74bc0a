package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds every setting of the tracker binaries.
type Config struct {
	DBPath      string `env:"TRACKER_DB_PATH" envDefault:"habitosdeleitura.db"`
	SessionPath string `env:"TRACKER_SESSION_PATH" envDefault:".session.json"`

	Log struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"text"`
	}

	GoogleBooks struct {
		APIKey   string `env:"GOOGLE_BOOKS_API_KEY"`
		BaseURL  string `env:"GOOGLE_BOOKS_BASE_URL" envDefault:"https://www.googleapis.com/books/v1"`
		Language string `env:"GOOGLE_BOOKS_LANGUAGE" envDefault:"pt"`
	}

	// Reminders go to RabbitMQ when a URL is set, otherwise to in-process timers.
	RabbitMQ struct {
		URL       string `env:"RABBITMQ_URL"`
		QueueName string `env:"RABBITMQ_QUEUE_NAME" envDefault:"reading_reminders"`
	}

	Mirror struct {
		Port           int     `env:"MIRROR_PORT" envDefault:"3000"`
		DataDir        string  `env:"MIRROR_DATA_DIR" envDefault:"data"`
		DBName         string  `env:"MIRROR_DB_NAME" envDefault:"habitosdeleitura.db"`
		AuthSecret     string  `env:"MIRROR_AUTH_SECRET"`
		RateLimitRPS   float64 `env:"MIRROR_RATE_LIMIT_RPS" envDefault:"10"`
		RateLimitBurst int     `env:"MIRROR_RATE_LIMIT_BURST" envDefault:"20"`
	}

	// An empty DevicePath means the app's default location on the device.
	Snapshot struct {
		Source            string `env:"SNAPSHOT_SOURCE" envDefault:"adb"`
		DevicePath        string `env:"SNAPSHOT_DEVICE_PATH"`
		ADBSerial         string `env:"SNAPSHOT_ADB_SERIAL"`
		FilePath          string `env:"SNAPSHOT_FILE_PATH"`
		S3Bucket          string `env:"SNAPSHOT_S3_BUCKET"`
		S3Key             string `env:"SNAPSHOT_S3_KEY" envDefault:"habitosdeleitura.db"`
		S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
		S3Endpoint        string `env:"SNAPSHOT_S3_ENDPOINT"`
		S3AccessKeyID     string `env:"SNAPSHOT_S3_ACCESS_KEY_ID"`
		S3SecretAccessKey string `env:"SNAPSHOT_S3_SECRET_ACCESS_KEY"`
	}
}

// Load reads a .env file when present, then the process environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	return parse(env.Options{})
}

// FromMap parses settings from vars instead of the process environment.
func FromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Mirror.Port <= 0 || c.Mirror.Port > 65535 {
		return fmt.Errorf("MIRROR_PORT out of range: %d", c.Mirror.Port)
	}
	switch c.Snapshot.Source {
	case "adb":
	case "file":
		if c.Snapshot.FilePath == "" {
			return fmt.Errorf("SNAPSHOT_FILE_PATH is required when SNAPSHOT_SOURCE=file")
		}
	case "s3":
		if c.Snapshot.S3Bucket == "" {
			return fmt.Errorf("SNAPSHOT_S3_BUCKET is required when SNAPSHOT_SOURCE=s3")
		}
	default:
		return fmt.Errorf("unknown SNAPSHOT_SOURCE %q", c.Snapshot.Source)
	}
	return nil
}
