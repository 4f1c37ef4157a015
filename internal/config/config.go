package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Peer network
	Host      string   `env:"P2P_HOST" default:"127.0.0.1"`
	Port      int      `env:"P2P_PORT" default:"12345"`
	Peers     []string `env:"P2P_PEERS"`
	HelloText string   `env:"HELLO_TEXT" default:"Hello from me"`

	// Timeouts
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" default:"5s"`
	DialTimeout      time.Duration `env:"DIAL_TIMEOUT" default:"5s"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT" default:"10s"`

	// Limits
	InboundQueueSize int     `env:"INBOUND_QUEUE_SIZE" default:"1024"`
	MaxFrameSize     int     `env:"MAX_FRAME_SIZE" default:"1048576"`
	PeerRateLimit    float64 `env:"PEER_RATE_LIMIT" default:"10"`
	PeerRateBurst    int     `env:"PEER_RATE_BURST" default:"20"`

	// Admin API, 0 disables it
	AdminPort int `env:"ADMIN_PORT" default:"0"`

	// Peer directory, empty URL disables it
	RedisURL      string        `env:"REDIS_URL"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	PeerRecordTTL time.Duration `env:"PEER_RECORD_TTL" default:"24h"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from a .env file (if any) and environment variables
func LoadConfig() (*Config, error) {
	// a missing .env is fine, system env vars still apply
	_ = godotenv.Load(".env")

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Peer network
	if err := loadEnvString(&config.Host, "P2P_HOST", "127.0.0.1"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.Port, "P2P_PORT", 12345); err != nil {
		return nil, err
	}
	if err := loadEnvStringSlice(&config.Peers, "P2P_PEERS", nil); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.HelloText, "HELLO_TEXT", "Hello from me"); err != nil {
		return nil, err
	}

	// Timeouts
	if err := loadEnvDuration(&config.HandshakeTimeout, "HANDSHAKE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.DialTimeout, "DIAL_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.WriteTimeout, "WRITE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// Limits
	if err := loadEnvInt(&config.InboundQueueSize, "INBOUND_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxFrameSize, "MAX_FRAME_SIZE", 1024*1024); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.PeerRateLimit, "PEER_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.PeerRateBurst, "PEER_RATE_BURST", 20); err != nil {
		return nil, err
	}

	if err := loadEnvInt(&config.AdminPort, "ADMIN_PORT", 0); err != nil {
		return nil, err
	}

	// Peer directory
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PeerRecordTTL, "PEER_RECORD_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) error {
	value := os.Getenv(key)
	if value == "" {
		*target = defaultValue
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	*target = out
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.Port < 0 || c.Port > 65535 {
		errors = append(errors, "P2P_PORT must be between 0 and 65535")
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errors = append(errors, "ADMIN_PORT must be between 0 and 65535")
	}
	for _, p := range c.Peers {
		if _, _, err := splitHostPort(p); err != nil {
			errors = append(errors, fmt.Sprintf("invalid peer address %q", p))
		}
	}
	if c.InboundQueueSize < 1 {
		errors = append(errors, "INBOUND_QUEUE_SIZE must be positive")
	}
	if c.MaxFrameSize < 16 {
		errors = append(errors, "MAX_FRAME_SIZE must be at least 16 bytes")
	}
	if c.PeerRateLimit < 0 || c.PeerRateBurst < 0 {
		errors = append(errors, "PEER_RATE_LIMIT and PEER_RATE_BURST must not be negative")
	}
	if c.PeerRateLimit > 0 && c.PeerRateBurst == 0 {
		errors = append(errors, "PEER_RATE_BURST must be positive when PEER_RATE_LIMIT is set")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// ListenAddr returns host:port of the peer listener
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RedisEnabled reports whether the peer directory should be used
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	return host, port, nil
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
