package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Provider ProviderConfig `yaml:"provider"`
	Booking  BookingConfig  `yaml:"booking"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type ProviderConfig struct {
	ShopID         string `yaml:"shop_id"`
	SecretKey      string `yaml:"secret_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type BookingConfig struct {
	// Hold TTLs per lifecycle stage, in hours. Fractional values are
	// allowed so tests can run with sub-minute holds.
	ConfirmationHours   float64 `yaml:"confirmation_hours"`
	PaymentHours        float64 `yaml:"payment_hours"`
	InvoiceHours        float64 `yaml:"invoice_hours"`
	RetentionDays       int     `yaml:"retention_days"`
	CatalogCacheSeconds int     `yaml:"catalog_cache_ttl_seconds"`
	TOTPIntervalSeconds int     `yaml:"totp_interval_seconds"`
	ClientURL           string  `yaml:"client_url"`
}

func (b BookingConfig) ConfirmationTTL() time.Duration {
	return time.Duration(b.ConfirmationHours * float64(time.Hour))
}

func (b BookingConfig) PaymentTTL() time.Duration {
	return time.Duration(b.PaymentHours * float64(time.Hour))
}

func (b BookingConfig) InvoiceTTL() time.Duration {
	return time.Duration(b.InvoiceHours * float64(time.Hour))
}

func (b BookingConfig) Retention() time.Duration {
	return time.Duration(b.RetentionDays) * 24 * time.Hour
}

type WorkerConfig struct {
	SweepSeconds     int `yaml:"sweep_seconds"`
	LeaderTTLSeconds int `yaml:"leader_ttl_seconds"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Provider.ShopID == "" || c.Provider.SecretKey == "" {
		return fmt.Errorf("provider shop_id and secret_key are required")
	}
	if c.Booking.ConfirmationHours <= 0 || c.Booking.PaymentHours <= 0 || c.Booking.InvoiceHours <= 0 {
		return fmt.Errorf("booking hold TTLs must be positive")
	}
	if c.Booking.RetentionDays <= 0 {
		return fmt.Errorf("booking retention_days must be positive")
	}
	return nil
}
