package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Stripe   StripeConfig
	Invoicer InvoicerConfig
	Email    EmailConfig
	HTTP     HTTPConfig
	Schedule ScheduleConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type StripeConfig struct {
	SecretKey string
	// APIURL overrides the Stripe API host. Empty means the SDK default.
	APIURL            string
	MaxNetworkRetries int64
	WebhookSecret     string
}

type InvoicerConfig struct {
	BaseURL        string
	Username       string
	Password       string
	Serie          string
	ExpeditionZip  string
	IssuerRegime   string
	RequestTimeout time.Duration
	MaxRetries     int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type HTTPConfig struct {
	Addr       string
	AdminToken string
}

type ScheduleConfig struct {
	Cron        string
	Timezone    string
	EnabledJobs []string
	RunOnStart  bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "alima-billing"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "alima"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      strings.TrimSpace(getenv("RABBITMQ_URL", "")),
			Exchange: getenv("RABBITMQ_EXCHANGE", "alima.billing"),
		},
		Stripe: StripeConfig{
			SecretKey:         strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			APIURL:            strings.TrimSpace(getenv("STRIPE_API_URL", "")),
			MaxNetworkRetries: int64(getenvInt("STRIPE_MAX_NETWORK_RETRIES", 2)),
			WebhookSecret:     strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		},
		Invoicer: InvoicerConfig{
			BaseURL:        strings.TrimRight(getenv("FACTURAMA_BASE_URL", "https://apisandbox.facturama.mx"), "/"),
			Username:       strings.TrimSpace(getenv("FACTURAMA_USER", "")),
			Password:       getenv("FACTURAMA_PASSWORD", ""),
			Serie:          getenv("FACTURAMA_SERIE", "ALM"),
			ExpeditionZip:  getenv("FACTURAMA_EXPEDITION_ZIP", "06700"),
			IssuerRegime:   getenv("FACTURAMA_ISSUER_REGIME", "601"),
			RequestTimeout: time.Duration(getenvInt("FACTURAMA_TIMEOUT_SECONDS", 30)) * time.Second,
			MaxRetries:     getenvInt("FACTURAMA_MAX_RETRIES", 3),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "facturacion@alima.la"),
		},
		HTTP: HTTPConfig{
			Addr:       getenv("HTTP_ADDR", ":8080"),
			AdminToken: strings.TrimSpace(getenv("ADMIN_TOKEN", "")),
		},
		Schedule: ScheduleConfig{
			Cron:        getenv("BILLING_SCHEDULE", "0 9 * * *"),
			Timezone:    getenv("BILLING_TIMEZONE", "America/Mexico_City"),
			EnabledJobs: parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
			RunOnStart:  getenvBool("BILLING_RUN_ON_START", false),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Location resolves the billing timezone, falling back to UTC.
func (c ScheduleConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
