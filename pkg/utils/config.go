package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Gateway    GatewayConfig
	BookingAPI BookingAPIConfig
	Redis      RedisConfig
	AMQP       AMQPConfig
	Held       HeldConfig
	Admin      AdminConfig
}

type AppConfig struct {
	Name            string
	Port            string
	Debug           bool
	LogPath         string
	FrontendBaseURL string `validate:"required,url"`
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string
	Name     string `validate:"required"`
	User     string `validate:"required"`
	Password string
	MaxConns int32
}

// GatewayConfig holds merchant credentials for the payment gateway.
// SecretKey signs inbound callbacks, VerifyKey signs outbound payment links.
type GatewayConfig struct {
	MerchantID string `validate:"required"`
	VerifyKey  string `validate:"required"`
	SecretKey  string `validate:"required"`
	PaymentURL string `validate:"required,url"`
	AckToken   string `validate:"required"`
}

type BookingAPIConfig struct {
	BaseURL string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
	RPS     float64       `validate:"gt=0"`
	Burst   int           `validate:"min=1"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

type HeldConfig struct {
	Path          string        `validate:"required"`
	Retention     time.Duration `validate:"gt=0"`
	PurgeInterval time.Duration `validate:"gt=0"`
}

type AdminConfig struct {
	KeyHash string
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	// Set defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("LOG_PATH", "logs/")
	viper.SetDefault("GATEWAY_ACK_TOKEN", "CBTOKEN:MPSTATOK")
	viper.SetDefault("GATEWAY_PAYMENT_URL", "https://pay.merchant.razer.com/RMS/pay")
	viper.SetDefault("BOOKING_API_TIMEOUT", "15s")
	viper.SetDefault("BOOKING_API_RPS", 20)
	viper.SetDefault("BOOKING_API_BURST", 5)
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("LOCK_TTL", "30s")
	viper.SetDefault("AMQP_EXCHANGE", "")
	viper.SetDefault("HELD_STORE_PATH", "data/held_bookings.db")
	viper.SetDefault("HELD_RETENTION", "24h")
	viper.SetDefault("HELD_PURGE_INTERVAL", "1h")

	// .env opsional, environment tetap dibaca
	if err := viper.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	viper.AutomaticEnv()

	config := &Config{
		App: AppConfig{
			Name:            viper.GetString("APP_NAME"),
			Port:            viper.GetString("PORT"),
			Debug:           viper.GetBool("DEBUG"),
			LogPath:         viper.GetString("LOG_PATH"),
			FrontendBaseURL: viper.GetString("FRONTEND_BASE_URL"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			Name:     viper.GetString("DB_NAME"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASS"),
			MaxConns: viper.GetInt32("DB_MAX_CONNS"),
		},
		Gateway: GatewayConfig{
			MerchantID: viper.GetString("GATEWAY_MERCHANT_ID"),
			VerifyKey:  viper.GetString("GATEWAY_VERIFY_KEY"),
			SecretKey:  viper.GetString("GATEWAY_SECRET_KEY"),
			PaymentURL: viper.GetString("GATEWAY_PAYMENT_URL"),
			AckToken:   viper.GetString("GATEWAY_ACK_TOKEN"),
		},
		BookingAPI: BookingAPIConfig{
			BaseURL: viper.GetString("BOOKING_API_BASE_URL"),
			Timeout: viper.GetDuration("BOOKING_API_TIMEOUT"),
			RPS:     viper.GetFloat64("BOOKING_API_RPS"),
			Burst:   viper.GetInt("BOOKING_API_BURST"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
			LockTTL:  viper.GetDuration("LOCK_TTL"),
		},
		AMQP: AMQPConfig{
			URL:      viper.GetString("AMQP_URL"),
			Exchange: viper.GetString("AMQP_EXCHANGE"),
		},
		Held: HeldConfig{
			Path:          viper.GetString("HELD_STORE_PATH"),
			Retention:     viper.GetDuration("HELD_RETENTION"),
			PurgeInterval: viper.GetDuration("HELD_PURGE_INTERVAL"),
		},
		Admin: AdminConfig{
			KeyHash: viper.GetString("ADMIN_KEY_HASH"),
		},
	}

	if errs := ValidateStruct(config); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", FormatValidationErrors(errs))
	}

	return config, nil
}
