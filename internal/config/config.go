package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	API struct {
		Port     string
		BasePath string
	}
	Store struct {
		Driver string // "postgres" or "memory"
	}
	DB struct {
		DSN string
	}
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	NATS struct {
		URL     string
		Subject string
	}
	Telegram struct {
		BotToken      string
		ChatID        int64
		RatePerSecond int
		RetryAttempts int
		RetryDelay    time.Duration
	}
	SMS struct {
		AccountSID string
		AuthToken  string
		FromNumber string
		ToNumbers  []string
	}
	SMTP struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
		To       []string
	}
	OpenAI struct {
		APIKey string
		Model  string
	}
	Auth struct {
		Secret   string
		TokenTTL time.Duration
	}
	Logging struct {
		Dir   string
		Level string
	}
	Engagement Engagement
	Worker     struct {
		QueueSize int
	}
}

// Engagement carries the lifecycle constants of the escalation and volunteer engine.
type Engagement struct {
	MinProofPhotos        int
	TicketWindow          time.Duration
	TaskDeadline          time.Duration
	TaskPenaltyPoints     int
	TaskApprovalPoints    int
	BanThreshold          int
	PointsPerUnit         int
	NearbyRadiusKm        float64
	ConfirmationDelay     time.Duration
	SweepInterval         time.Duration
	EscalateManualReports bool
	MinAIConfidence       float64
}

// DefaultEngagement returns the production constants.
func DefaultEngagement() Engagement {
	return Engagement{
		MinProofPhotos:        5,
		TicketWindow:          72 * time.Hour,
		TaskDeadline:          24 * time.Hour,
		TaskPenaltyPoints:     10,
		TaskApprovalPoints:    20,
		BanThreshold:          3,
		PointsPerUnit:         10,
		NearbyRadiusKm:        50,
		ConfirmationDelay:     3 * time.Second,
		SweepInterval:         time.Hour,
		EscalateManualReports: true,
		MinAIConfidence:       0,
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	cfg.Store.Driver = strings.ToLower(os.Getenv("STORE"))
	cfg.DB.DSN = os.Getenv("DB_DSN")

	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	cfg.NATS.URL = os.Getenv("NATS_URL")
	cfg.NATS.Subject = os.Getenv("NATS_SUBJECT")

	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if id, err := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64); err == nil {
		cfg.Telegram.ChatID = id
	}
	if r, err := strconv.Atoi(os.Getenv("TELEGRAM_RATE_PER_SECOND")); err == nil {
		cfg.Telegram.RatePerSecond = r
	}

	cfg.SMS.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.SMS.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.SMS.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	cfg.SMS.ToNumbers = splitList(os.Getenv("SMS_TO_NUMBERS"))

	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	cfg.SMTP.Port = 587
	if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil {
		cfg.SMTP.Port = p
	}
	cfg.SMTP.Username = os.Getenv("SMTP_USERNAME")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	cfg.SMTP.From = os.Getenv("SMTP_FROM")
	cfg.SMTP.To = splitList(os.Getenv("SMTP_TO"))

	cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAI.Model = os.Getenv("OPENAI_MODEL")

	cfg.Auth.Secret = os.Getenv("AUTH_SECRET")
	cfg.Auth.TokenTTL = durationEnv("AUTH_TOKEN_TTL", 24*time.Hour)

	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	if qs, err := strconv.Atoi(os.Getenv("QUEUE_SIZE")); err == nil {
		cfg.Worker.QueueSize = qs
	}

	cfg.Engagement = DefaultEngagement()
	cfg.Engagement.SweepInterval = durationEnv("SWEEP_INTERVAL", cfg.Engagement.SweepInterval)
	cfg.Engagement.ConfirmationDelay = durationEnv("ESCALATION_CONFIRM_DELAY", cfg.Engagement.ConfirmationDelay)
	if v := os.Getenv("ESCALATE_MANUAL_REPORTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ESCALATE_MANUAL_REPORTS %q: %w", v, err)
		}
		cfg.Engagement.EscalateManualReports = b
	}
	if v := os.Getenv("MIN_AI_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MIN_AI_CONFIDENCE %q: %w", v, err)
		}
		cfg.Engagement.MinAIConfidence = f
	}
	if v, err := strconv.Atoi(os.Getenv("TASK_APPROVAL_POINTS")); err == nil {
		cfg.Engagement.TaskApprovalPoints = v
	}

	// Validate required settings
	missing := []string{}
	if cfg.Auth.Secret == "" {
		missing = append(missing, "AUTH_SECRET")
	}
	if cfg.Store.Driver != "memory" && cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "postgres"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "disaster_reports"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "relief-service"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "relief.fanout"
	}
	if cfg.Telegram.RatePerSecond == 0 {
		cfg.Telegram.RatePerSecond = 1
	}
	if cfg.Telegram.RetryAttempts == 0 {
		cfg.Telegram.RetryAttempts = 3
	}
	if cfg.Telegram.RetryDelay == 0 {
		cfg.Telegram.RetryDelay = time.Second
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 500
	}
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
