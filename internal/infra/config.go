package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации монитора.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Logger        LoggerConfig        `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BackendConfig — REST API детектора и параметры надежности вызовов.
type BackendConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	RetryAttempts  uint          `mapstructure:"retry_attempts"`

	// Настройки Circuit Breaker
	CBFailures uint32        `mapstructure:"cb_failures"`
	CBTimeout  time.Duration `mapstructure:"cb_timeout"`
}

// MonitorConfig — поток /ws/monitor. Пустой URL выводится из backend.url.
type MonitorConfig struct {
	URL                  string        `mapstructure:"url"`
	AutoConnect          bool          `mapstructure:"auto_connect"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	KeepaliveInterval    time.Duration `mapstructure:"keepalive_interval"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout"`
}

// StorageConfig выбирает драйвер "local storage" для настроек и алертов.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // file, redis, memory
	Path   string `mapstructure:"path"`
}

// RedisConfig описывает подключение к Redis (хранилище и Pub/Sub алертов).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// DatabaseConfig описывает подключение к PostgreSQL для архива алертов.
type DatabaseConfig struct {
	URL               string `mapstructure:"url"`
	ArchiveBufferSize int    `mapstructure:"archive_buffer_size"`
}

// AuthConfig содержит пути к RSA ключам и учетку оператора.
type AuthConfig struct {
	PublicKeyPath     string        `mapstructure:"public_key_path"`
	PrivateKeyPath    string        `mapstructure:"private_key_path"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	AdminUsername     string        `mapstructure:"admin_username"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"` // bcrypt
	PublicKey         []byte
	PrivateKey        []byte
}

// AudioConfig — куда писать синтезированные WAV (FIFO плеера или spool-файл).
type AudioConfig struct {
	DevicePath string `mapstructure:"device_path"`
	SampleRate int    `mapstructure:"sample_rate"`
	AutoEnable bool   `mapstructure:"auto_enable"`
}

// NotificationsConfig — платформенные уведомления. Разрешение есть только при заданном webhook.
type NotificationsConfig struct {
	WebhookURL     string            `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration     `mapstructure:"webhook_timeout"`
	WebhookHeaders map[string]string `mapstructure:"webhook_headers"`
}

// MetricsConfig — адрес отдельного listener'а для /metrics. Пустой = выключено.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// 2. ENV перекрывает конфиг: BACKEND_URL перекроет backend.url
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет, работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключи: PEM прямо в ENV (Docker/K8s) или файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.URL == "" {
		return errors.New("config: backend.url is required")
	}
	switch c.Storage.Driver {
	case "file", "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return errors.New("config: storage.driver=redis requires redis.addr")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Monitor.MaxReconnectAttempts < 0 {
		return errors.New("config: monitor.max_reconnect_attempts must be >= 0")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.request_timeout", 30*time.Second)
	v.SetDefault("backend.rate_limit", 20)
	v.SetDefault("backend.burst", 10)
	v.SetDefault("backend.retry_attempts", 3)
	v.SetDefault("backend.cb_failures", 5)
	v.SetDefault("backend.cb_timeout", 30*time.Second)

	v.SetDefault("monitor.auto_connect", true)
	v.SetDefault("monitor.reconnect_base_delay", time.Second)
	v.SetDefault("monitor.max_reconnect_attempts", 5)
	v.SetDefault("monitor.keepalive_interval", 30*time.Second)
	v.SetDefault("monitor.dial_timeout", 10*time.Second)

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.path", "./data")

	v.SetDefault("database.archive_buffer_size", 10000)

	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.admin_username", "admin")

	v.SetDefault("audio.sample_rate", 44100)

	v.SetDefault("notifications.webhook_timeout", 5*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — ключ из ENV (PEM) или из файла
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
