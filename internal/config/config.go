package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Storage  Storage  `yaml:"storage"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Booking  Booking  `yaml:"booking"`
	Auth     Auth     `yaml:"auth"`
	Metrics  Metrics  `yaml:"metrics"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"busticket"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Storage struct {
	// Driver is "postgres" or "memory". The memory driver keeps everything in
	// one process and runs the background loops inside the API.
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"busticket"`
	MaxConns int32  `yaml:"max_conns" env:"POSTGRES_MAX_CONNS" env-default:"20"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Timeout  time.Duration `yaml:"timeout" env:"REDIS_TIMEOUT" env-default:"2s"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"booking-events"`
	// GroupPrefix is prepended to each consumer's own group name.
	GroupPrefix string `yaml:"group_prefix" env:"KAFKA_GROUP_PREFIX"`
	StartOffset string `yaml:"start_offset" env:"KAFKA_START_OFFSET" env-default:"earliest"`
}

type Booking struct {
	LockTTL            time.Duration `yaml:"lock_ttl" env:"BOOKING_LOCK_TTL" env-default:"10m"`
	LockWait           time.Duration `yaml:"lock_wait" env:"BOOKING_LOCK_WAIT" env-default:"0s"`
	SweepInterval      time.Duration `yaml:"sweep_interval" env:"BOOKING_SWEEP_INTERVAL" env-default:"15s"`
	CancellationCutoff time.Duration `yaml:"cancellation_cutoff" env:"BOOKING_CANCELLATION_CUTOFF" env-default:"24h"`
	MaxSeatsPerBooking int           `yaml:"max_seats_per_booking" env:"BOOKING_MAX_SEATS" env-default:"6"`
	CacheTTL           time.Duration `yaml:"cache_ttl" env:"BOOKING_CACHE_TTL" env-default:"5s"`
}

type Auth struct {
	JWTSecret     string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET" env-default:"dev-secret"`
	WebhookSecret string `yaml:"webhook_secret" env:"AUTH_WEBHOOK_SECRET" env-default:"dev-webhook-secret"`
}

type Metrics struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR" env-default:":9091"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the booking core cannot run with.
func (c *Config) Validate() error {
	if c.Booking.LockTTL < time.Minute || c.Booking.LockTTL > 30*time.Minute {
		return fmt.Errorf("config error: booking.lock_ttl %s outside [1m, 30m]", c.Booking.LockTTL)
	}
	if c.Booking.LockWait < 0 || c.Booking.LockWait > 30*time.Second {
		return fmt.Errorf("config error: booking.lock_wait %s outside [0s, 30s]", c.Booking.LockWait)
	}
	if c.Booking.SweepInterval <= 0 {
		return fmt.Errorf("config error: booking.sweep_interval must be positive")
	}
	if c.Booking.CancellationCutoff < 0 {
		return fmt.Errorf("config error: booking.cancellation_cutoff must not be negative")
	}
	if c.Booking.MaxSeatsPerBooking <= 0 {
		return fmt.Errorf("config error: booking.max_seats_per_booking must be positive")
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config error: unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// LogLevel maps the configured level name onto slog.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
