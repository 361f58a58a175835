package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env        string           `mapstructure:"env"`
	Server     ServerConfig     `mapstructure:"http_server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Security   SecurityConfig   `mapstructure:"security"`
	PesaFlux   PesaFluxConfig   `mapstructure:"pesaflux"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Checkout   CheckoutConfig   `mapstructure:"checkout"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	OpenAPIPath       string        `mapstructure:"openapi_path"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source" validate:"required"`
}

type SecurityConfig struct {
	JWTSecret            string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m,max=24h"`
	OperatorUsername     string        `mapstructure:"operator_username" validate:"required"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash" validate:"required"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"omitempty,min=10,max=15"`
}

type PesaFluxConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key" validate:"required"`
	Email   string        `mapstructure:"email" validate:"required,email"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxWorkers int           `mapstructure:"max_workers"`
	QueueSize  int           `mapstructure:"queue_size"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"min=0"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type CheckoutConfig struct {
	ServerURL       string        `mapstructure:"server_url"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	DirectPollAfter int           `mapstructure:"direct_poll_after"`
	ReferencePrefix string        `mapstructure:"reference_prefix"`
	Amount          int64         `mapstructure:"amount"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// ----------------- DEFAULTS -----------------

// ApplyDefaults fills zero values with the values the service was tuned for.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.OpenAPIPath == "" {
		c.Server.OpenAPIPath = "./api/openapi.yml"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Security.AccessTokenDuration == 0 {
		c.Security.AccessTokenDuration = time.Hour
	}
	if c.PesaFlux.BaseURL == "" {
		c.PesaFlux.BaseURL = "https://api.pesaflux.co.ke"
	}
	if c.PesaFlux.Timeout == 0 {
		c.PesaFlux.Timeout = 30 * time.Second
	}
	if c.Reconciler.Interval == 0 {
		c.Reconciler.Interval = 30 * time.Second
	}
	if c.Reconciler.StaleAfter == 0 {
		c.Reconciler.StaleAfter = 30 * time.Second
	}
	if c.Reconciler.MaxAge == 0 {
		c.Reconciler.MaxAge = 15 * time.Minute
	}
	if c.Reconciler.BatchSize == 0 {
		c.Reconciler.BatchSize = 50
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	if c.Checkout.PollInterval == 0 {
		c.Checkout.PollInterval = 5 * time.Second
	}
	if c.Checkout.MaxAttempts == 0 {
		c.Checkout.MaxAttempts = 24
	}
	if c.Checkout.DirectPollAfter == 0 {
		c.Checkout.DirectPollAfter = 7
	}
	if c.Checkout.ReferencePrefix == "" {
		c.Checkout.ReferencePrefix = "CRFF"
	}
	if c.Checkout.ServerURL == "" {
		c.Checkout.ServerURL = fmt.Sprintf("http://localhost:%d/api/v1", c.Server.Port)
	}
	if c.Checkout.Amount == 0 {
		c.Checkout.Amount = 139
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds the config for container deployments where no
// config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:           getEnvAsInt("PORT", 8080),
			BaseURL:        getEnv("BASE_URL", ""),
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
			OpenAPIPath:    getEnv("OPENAPI_PATH", ""),
			ReadTimeout:    getEnvAsDuration("HTTP_READ_TIMEOUT", 0),
			WriteTimeout:   getEnvAsDuration("HTTP_WRITE_TIMEOUT", 0),
			IdleTimeout:    getEnvAsDuration("HTTP_IDLE_TIMEOUT", 0),
		},
		Database: DatabaseConfig{
			Source:          getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Security: SecurityConfig{
			JWTSecret:            getEnv("JWT_SECRET", ""),
			AccessTokenDuration:  getEnvAsDuration("ACCESS_TOKEN_DURATION", time.Hour),
			OperatorUsername:     getEnv("OPERATOR_USERNAME", ""),
			OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 12),
		},
		PesaFlux: PesaFluxConfig{
			BaseURL: getEnv("PESAFLUX_BASE_URL", ""),
			APIKey:  getEnv("PESAFLUX_API_KEY", ""),
			Email:   getEnv("PESAFLUX_EMAIL", ""),
			Timeout: getEnvAsDuration("PESAFLUX_TIMEOUT", 0),
		},
		Reconciler: ReconcilerConfig{
			Interval:   getEnvAsDuration("RECONCILER_INTERVAL", 0),
			StaleAfter: getEnvAsDuration("RECONCILER_STALE_AFTER", 0),
			MaxAge:     getEnvAsDuration("RECONCILER_MAX_AGE", 0),
			BatchSize:  getEnvAsInt("RECONCILER_BATCH_SIZE", 0),
			MaxWorkers: getEnvAsInt("RECONCILER_MAX_WORKERS", 0),
			QueueSize:  getEnvAsInt("RECONCILER_QUEUE_SIZE", 0),
		},
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_TTL", 0),
		},
		Checkout: CheckoutConfig{
			ServerURL: getEnv("CHECKOUT_SERVER_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

var structValidator = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	var errs []string

	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Reconciler.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("reconciler config: %v", err))
	}

	if err := c.Checkout.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("checkout config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *ReconcilerConfig) Validate() error {
	if c.MaxAge <= c.StaleAfter {
		return errors.New("max_age must be greater than stale_after")
	}
	return nil
}

func (c *CheckoutConfig) Validate() error {
	if c.DirectPollAfter >= c.MaxAttempts {
		return errors.New("direct_poll_after must be lower than max_attempts")
	}
	return nil
}
