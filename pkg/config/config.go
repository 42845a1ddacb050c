package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server.
type Config struct {
	Env        string
	InstanceID string

	ListenAddr string
	WSAddr     string
	AdminAddr  string
	TLSCert    string
	TLSKey     string

	ScyllaHosts    []string
	ScyllaKeyspace string
	RedisAddr      string
	KafkaBrokers   []string
	KafkaTopic     string

	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	JWTSecret string

	// Pub/sub and session limits
	ChannelBufferSize  int
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	cfg := &Config{
		Env:        getEnv("ENV", "development"),
		InstanceID: getEnv("INSTANCE_ID", hostname),

		ListenAddr: getEnv("LISTEN_ADDR", ":24827"),
		WSAddr:     os.Getenv("WS_ADDR"),
		AdminAddr:  getEnv("ADMIN_ADDR", ":9090"),
		TLSCert:    os.Getenv("TLS_CERT_FILE"),
		TLSKey:     os.Getenv("TLS_KEY_FILE"),

		ScyllaHosts:    splitList(os.Getenv("SCYLLA_HOSTS")),
		ScyllaKeyspace: getEnv("SCYLLA_KEYSPACE", "lytecord"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "lytecord-messages"),

		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		S3SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		ChannelBufferSize:  getInt("CHANNEL_BUFFER_SIZE", 100),
		RateLimitPerSecond: getFloat("RATE_LIMIT_PER_SECOND", 100),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 200),
	}

	if cfg.IsProduction() {
		if cfg.TLSCert == "" || cfg.TLSKey == "" {
			panic("TLS_CERT_FILE and TLS_KEY_FILE are required in production")
		}
		if len(cfg.ScyllaHosts) == 0 {
			panic("SCYLLA_HOSTS is required in production")
		}
		if os.Getenv("JWT_SECRET") == "" {
			panic("JWT_SECRET is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return defaultValue
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
