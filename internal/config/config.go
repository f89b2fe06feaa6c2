package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	Database    Database
	BaseURL     string `env:"BASE_URL"`
	OrderNodeID int64  `env:"ORDER_NODE_ID" envDefault:"1"`

	Provider Provider `envPrefix:"PROVIDER_"`
	GiftCard GiftCard `envPrefix:"GIFT_CARD_"`
	Notify   Notify   `envPrefix:"NOTIFY_"`
	Admin    Admin    `envPrefix:"ADMIN_"`
}

type Provider struct {
	BaseApiURL       string        `env:"BASE_API_URL"`
	SecretKey        string        `env:"SECRET_KEY"`
	WebhookSecret    string        `env:"WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`
}

type GiftCard struct {
	Prefix string `env:"PREFIX" envDefault:"SOAP"`
}

type Notify struct {
	URL          string        `env:"URL"`
	Secret       string        `env:"SECRET"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	RetryDelay   time.Duration `env:"RETRY_DELAY" envDefault:"30s"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"8"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"20"`
}

type Admin struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type Database struct {
	Driver string `env:"DATABASE_DRIVER" envDefault:"sqlite"` // sqlite, mysql
	URL    string `env:"DATABASE_URL" envDefault:"checkout.db"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
