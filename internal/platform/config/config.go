package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	strutil "ampel/pkg/platform/strings"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DefaultSessionTTL is the fixed lifetime of a KYC session.
const DefaultSessionTTL = 30 * time.Minute

// Server captures HTTP server level configuration.
type Server struct {
	Env           string
	Addr          string
	MetricsAddr   string
	BaseURL       string
	LogLevel      string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	SessionTTL    time.Duration

	Persona  PersonaConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// PersonaConfig holds the identity-verification vendor credentials.
type PersonaConfig struct {
	BaseURL       string
	APIKey        string
	APIVersion    string
	TemplateID    string
	WebhookSecret string
	Timeout       time.Duration
}

// DatabaseConfig selects Postgres; an empty URL runs on in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig enables the Redis webhook ledger when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LedgerTTL    time.Duration
}

// KafkaConfig enables the Kafka audit sink when Brokers is non-empty. With a
// database configured, events go through the audit outbox and the relay
// forwards them every RelayInterval.
type KafkaConfig struct {
	Brokers       []string
	AuditTopic    string
	RelayInterval time.Duration
	RelayBatch    int
}

// IsProduction reports whether the process runs with production guarantees.
func (s Server) IsProduction() bool {
	return s.Env == EnvProduction
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present; real
// environment variables take precedence over it.
func FromEnv() Server {
	_ = godotenv.Load()

	env := getEnv("AMPEL_ENV", EnvDevelopment)

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" && env != EnvProduction {
		// Use a default for development - Validate rejects it in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Env:           env,
		Addr:          getEnv("AMPEL_ADDR", ":8080"),
		MetricsAddr:   getEnv("AMPEL_METRICS_ADDR", ":9090"),
		BaseURL:       strings.TrimRight(os.Getenv("APP_BASE_URL"), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     getEnv("JWT_ISSUER", "ampel"),
		JWTAudience:   getEnv("JWT_AUDIENCE", "ampel-app"),
		SessionTTL:    getDuration("KYC_SESSION_TTL", DefaultSessionTTL),
		Persona: PersonaConfig{
			BaseURL:       getEnv("PERSONA_BASE_URL", "https://withpersona.com/api/v1"),
			APIKey:        os.Getenv("PERSONA_API_KEY"),
			APIVersion:    getEnv("PERSONA_API_VERSION", "2023-01-05"),
			TemplateID:    os.Getenv("PERSONA_TEMPLATE_ID"),
			WebhookSecret: os.Getenv("PERSONA_WEBHOOK_SECRET"),
			Timeout:       getDuration("PERSONA_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			LedgerTTL:    getDuration("REDIS_WEBHOOK_LEDGER_TTL", 7*24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:       strutil.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:    getEnv("KAFKA_AUDIT_TOPIC", "ampel.kyc.audit"),
			RelayInterval: getDuration("AUDIT_RELAY_INTERVAL", 2*time.Second),
			RelayBatch:    getInt("AUDIT_RELAY_BATCH", 100),
		},
	}
}

// Validate reports every missing value the KYC flow cannot run without.
func (s Server) Validate() error {
	var errs []error
	required := []struct {
		name  string
		value string
	}{
		{"APP_BASE_URL", s.BaseURL},
		{"PERSONA_API_KEY", s.Persona.APIKey},
		{"PERSONA_TEMPLATE_ID", s.Persona.TemplateID},
		{"PERSONA_WEBHOOK_SECRET", s.Persona.WebhookSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if s.IsProduction() {
		if s.JWTSigningKey == "" {
			errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
		}
		if s.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required"))
		}
	}
	if s.SessionTTL <= 0 {
		errs = append(errs, errors.New("KYC_SESSION_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
