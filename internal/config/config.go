package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Optional backends. Empty disables the feature.
	DatabaseURL   string `env:"DATABASE_URL"`
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"speacher"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	UploadDir   string        `env:"UPLOAD_DIR" envDefault:"./uploads"`
	MinDuration time.Duration `env:"MIN_AUDIO_DURATION" envDefault:"100ms"`
	MaxDuration time.Duration `env:"MAX_AUDIO_DURATION" envDefault:"2h"`

	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
	JobTimeout   time.Duration `env:"JOB_TIMEOUT" envDefault:"1h"`

	AWSRegion    string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSAccessKey string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSBucket    string `env:"AWS_S3_BUCKET"`
	AWSEndpoint  string `env:"AWS_ENDPOINT_URL"`

	AzureStorageAccount string `env:"AZURE_STORAGE_ACCOUNT"`
	AzureStorageKey     string `env:"AZURE_STORAGE_KEY"`
	AzureContainer      string `env:"AZURE_STORAGE_CONTAINER" envDefault:"speacher-audio"`
	AzureSpeechKey      string `env:"AZURE_SPEECH_KEY"`
	AzureSpeechRegion   string `env:"AZURE_SPEECH_REGION"`

	GCPBucket          string `env:"GCP_GCS_BUCKET"`
	GCPAPIKey          string `env:"GCP_SPEECH_API_KEY"`
	GCPCredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	MQTTBrokerURL string
	UploadDir     string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.UploadDir != "" {
		cfg.UploadDir = overrides.UploadDir
	}

	return cfg, nil
}
