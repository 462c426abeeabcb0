package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Sweeper       SweeperConfig       `mapstructure:"sweeper"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	// WriteTimeout must stay zero when SSE streams are served; a non-zero value cuts long-lived streams.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// PaymentConfig is the merchant KHQR profile embedded in every generated QR.
type PaymentConfig struct {
	BakongAccountID string `mapstructure:"bakong_account_id"`
	MerchantID      string `mapstructure:"merchant_id"`
	MerchantName    string `mapstructure:"merchant_name"`
	MerchantCity    string `mapstructure:"merchant_city"`
	AcquiringBank   string `mapstructure:"acquiring_bank"`
	StoreLabel      string `mapstructure:"store_label"`
	TerminalLabel   string `mapstructure:"terminal_label"`
	MobileNumber    string `mapstructure:"mobile_number"`
	QRImageSize     int    `mapstructure:"qr_image_size"`
}

type NotificationConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type TelegramConfig struct {
	APIURL   string        `mapstructure:"api_url"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	CallbackRPS   float64 `mapstructure:"callback_rps"`
	CallbackBurst int     `mapstructure:"callback_burst"`
}

type SweeperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfigFromEnv builds the configuration for container deployments.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 0),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Payment: PaymentConfig{
			BakongAccountID: getEnv("BAKONG_ACCOUNT_ID", ""),
			MerchantID:      getEnv("BAKONG_MERCHANT_ID", ""),
			MerchantName:    getEnv("BAKONG_MERCHANT_NAME", ""),
			MerchantCity:    getEnv("BAKONG_MERCHANT_CITY", "Phnom Penh"),
			AcquiringBank:   getEnv("BAKONG_ACQUIRING_BANK", ""),
			StoreLabel:      getEnv("BAKONG_STORE_LABEL", ""),
			TerminalLabel:   getEnv("BAKONG_TERMINAL_LABEL", ""),
			MobileNumber:    getEnv("BAKONG_MOBILE_NUMBER", ""),
			QRImageSize:     getEnvAsInt("BAKONG_QR_IMAGE_SIZE", 350),
		},
		Notification: NotificationConfig{
			BufferSize:        getEnvAsInt("SSE_BUFFER_SIZE", 16),
			SendTimeout:       getEnvAsDuration("SSE_SEND_TIMEOUT", 250*time.Millisecond),
			HeartbeatInterval: getEnvAsDuration("SSE_HEARTBEAT_INTERVAL", 25*time.Second),
		},
		Telegram: TelegramConfig{
			APIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
			Timeout:  getEnvAsDuration("TELEGRAM_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			CallbackRPS:   getEnvAsFloat("CALLBACK_RPS", 5),
			CallbackBurst: getEnvAsInt("CALLBACK_BURST", 10),
		},
		Sweeper: SweeperConfig{
			Interval:  getEnvAsDuration("SWEEPER_INTERVAL", time.Minute),
			BatchSize: getEnvAsInt("SWEEPER_BATCH_SIZE", 50),
		},
	}
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

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.Notification.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("notification config: %v", err))
	}

	if err := c.Observability.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 {
		return errors.New("port must be positive")
	}
	if c.AllowedOrigins != "" {
		for _, origin := range c.Origins() {
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

// Origins splits the comma separated allowed_origins value.
func (c *ServerConfig) Origins() []string {
	if c.AllowedOrigins == "" {
		return []string{"*"}
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *PaymentConfig) Validate() error {
	if c.BakongAccountID == "" {
		return errors.New("bakong_account_id is required")
	}
	if !strings.Contains(c.BakongAccountID, "@") {
		return errors.New("bakong_account_id must look like name@bank")
	}
	if c.MerchantName == "" {
		return errors.New("merchant_name is required")
	}
	if c.MerchantCity == "" {
		return errors.New("merchant_city is required")
	}
	if c.QRImageSize < 0 {
		return errors.New("qr_image_size cannot be negative")
	}
	return nil
}

func (c *NotificationConfig) Validate() error {
	if c.BufferSize < 0 {
		return errors.New("buffer_size cannot be negative")
	}
	if c.SendTimeout < 0 {
		return errors.New("send_timeout cannot be negative")
	}
	return nil
}

// Enabled reports whether both credentials are present.
func (c *TelegramConfig) Enabled() bool {
	return strings.TrimSpace(c.BotToken) != "" && strings.TrimSpace(c.ChatID) != ""
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q", c.Level)
	}
	switch c.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	return nil
}
