package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	DB struct {
		Driver string
		DSN    string
	}
	SMS struct {
		Mode               string
		Provider           string
		AccountSID         string
		AuthToken          string
		FromNumber         string
		DefaultCountryCode string
		Signature          string
		Timeout            time.Duration
		AWSRegion          string
		SNSSenderID        string
	}
	Telegram struct {
		BotToken  string
		OpsChatID int64
		RateLimit int
	}
	API struct {
		Port     string
		BasePath string
	}
	Notification struct {
		QueueSize  int
		MaxWorkers int
	}
	Logging struct {
		Dir   string
		Level string
	}
	WebSocket struct {
		MaxConnections int
	}
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	SMSModeLive     = "live"
	SMSModeSimulate = "simulate"

	SMSProviderTwilio = "twilio"
	SMSProviderSNS    = "sns"
)

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	// Kafka settings
	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	// Database
	cfg.DB.Driver = os.Getenv("DB_DRIVER")
	cfg.DB.DSN = os.Getenv("DB_DSN")

	// SMS carrier settings
	cfg.SMS.Mode = os.Getenv("SMS_MODE")
	cfg.SMS.Provider = os.Getenv("SMS_PROVIDER")
	cfg.SMS.AWSRegion = os.Getenv("AWS_REGION")
	cfg.SMS.SNSSenderID = os.Getenv("SNS_SMS_SENDER_ID")
	cfg.SMS.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.SMS.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.SMS.FromNumber = os.Getenv("TWILIO_PHONE_NUMBER")
	cfg.SMS.DefaultCountryCode = os.Getenv("SMS_DEFAULT_COUNTRY_CODE")
	cfg.SMS.Signature = os.Getenv("SMS_SIGNATURE")
	if v := os.Getenv("SMS_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SMS_TIMEOUT %q: %w", v, err)
		}
		cfg.SMS.Timeout = d
	}

	// Telegram ops reports
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("TELEGRAM_OPS_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TELEGRAM_OPS_CHAT_ID %q: %w", v, err)
		}
		cfg.Telegram.OpsChatID = id
	}
	if rl, err := strconv.Atoi(os.Getenv("TELEGRAM_RATE_LIMIT")); err == nil {
		cfg.Telegram.RateLimit = rl
	}

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	// Notification worker settings
	if qs, err := strconv.Atoi(os.Getenv("QUEUE_SIZE")); err == nil {
		cfg.Notification.QueueSize = qs
	}
	if mw, err := strconv.Atoi(os.Getenv("MAX_WORKERS")); err == nil {
		cfg.Notification.MaxWorkers = mw
	}

	// Logging
	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	if mc, err := strconv.Atoi(os.Getenv("WS_MAX_CONNECTIONS")); err == nil {
		cfg.WebSocket.MaxConnections = mc
	}

	if cfg.DB.Driver == "" {
		cfg.DB.Driver = DriverPostgres
	}
	if cfg.SMS.Mode == "" {
		cfg.SMS.Mode = SMSModeLive
	}
	if cfg.SMS.Provider == "" {
		cfg.SMS.Provider = SMSProviderTwilio
	}

	// Validate required settings
	missing := []string{}
	if cfg.DB.Driver == DriverPostgres && cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}
	if cfg.DB.Driver != DriverPostgres && cfg.DB.Driver != DriverMemory {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}
	if cfg.SMS.Mode != SMSModeLive && cfg.SMS.Mode != SMSModeSimulate {
		return Config{}, fmt.Errorf("unsupported SMS_MODE %q", cfg.SMS.Mode)
	}
	if cfg.SMS.Provider != SMSProviderTwilio && cfg.SMS.Provider != SMSProviderSNS {
		return Config{}, fmt.Errorf("unsupported SMS_PROVIDER %q", cfg.SMS.Provider)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api"
	}
	if cfg.Notification.QueueSize == 0 {
		cfg.Notification.QueueSize = 500
	}
	if cfg.Notification.MaxWorkers == 0 {
		cfg.Notification.MaxWorkers = 10
	}
	if cfg.SMS.Timeout == 0 {
		cfg.SMS.Timeout = 10 * time.Second
	}
	if cfg.SMS.DefaultCountryCode == "" {
		cfg.SMS.DefaultCountryCode = "+91"
	}
	if cfg.SMS.Signature == "" {
		cfg.SMS.Signature = "Coastal Safety Gujarat"
	}
	if cfg.SMS.AWSRegion == "" {
		cfg.SMS.AWSRegion = "ap-south-1"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "coastal_alerts"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "coastal-alert-service"
	}
	if cfg.Telegram.RateLimit == 0 {
		cfg.Telegram.RateLimit = 1
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.WebSocket.MaxConnections == 0 {
		cfg.WebSocket.MaxConnections = 100
	}
}

// SMSConfigured reports whether the selected carrier has what it needs to send.
// SNS resolves credentials through the AWS default chain at startup.
func (c Config) SMSConfigured() bool {
	if c.SMS.Provider == SMSProviderSNS {
		return true
	}
	return c.SMS.AccountSID != "" && c.SMS.AuthToken != "" && c.SMS.FromNumber != ""
}
