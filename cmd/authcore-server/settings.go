package main

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// settings are the process-level options. Engine tuning is read separately
// by authcore.LoadConfigFromEnv under the AUTH_ prefix.
type settings struct {
	Addr     string
	LogLevel string
	// TrustedProxies are CIDRs whose X-Forwarded-For is honored.
	TrustedProxies []string

	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers  []string
	KafkaTopic    string
	KafkaSeverity string

	ElasticURL      string
	ElasticUser     string
	ElasticPassword string
	ElasticIndex    string

	SentryDSN string
	SentryEnv string

	AdminIdentifier string
	AdminSecret     string
}

func loadSettings() settings {
	// A missing .env file is fine; the process environment still applies.
	_ = godotenv.Load()

	return settings{
		Addr:     envDefault("SERVER_ADDR", ":8080"),
		LogLevel: envDefault("LOG_LEVEL", "info"),

		TrustedProxies: csv(os.Getenv("TRUSTED_PROXIES")),

		DBDriver: strings.ToLower(envDefault("AUTH_DB_DRIVER", "sqlite")),
		DBDSN:    envDefault("AUTH_DB_DSN", "file:authcore.db?_pragma=busy_timeout(5000)"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		KafkaBrokers:  csv(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    envDefault("KAFKA_TOPIC", "security-events"),
		KafkaSeverity: strings.ToUpper(envDefault("KAFKA_MIN_SEVERITY", "WARNING")),

		ElasticURL:      os.Getenv("ES_URL"),
		ElasticUser:     os.Getenv("ES_USER"),
		ElasticPassword: os.Getenv("ES_PASSWORD"),
		ElasticIndex:    envDefault("ES_INDEX", "security-events"),

		SentryDSN: os.Getenv("SENTRY_DSN"),
		SentryEnv: envDefault("SENTRY_ENVIRONMENT", "development"),

		AdminIdentifier: os.Getenv("AUTH_BOOTSTRAP_ADMIN"),
		AdminSecret:     os.Getenv("AUTH_BOOTSTRAP_ADMIN_SECRET"),
	}
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func csv(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
