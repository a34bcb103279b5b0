package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用程式的完整配置
type Config struct {
	Server ServerConfig
	DB     DBConfig
	Chat   ChatConfig
	Upload UploadConfig
	Log    LogConfig
}

type ServerConfig struct {
	Address         string
	Mode            string        // gin 模式: debug / release / test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DBConfig struct {
	Driver       string // postgres 或 sqlite
	Host         string
	User         string
	Password     string
	Name         string
	Port         int
	SSLMode      string `mapstructure:"sslmode"`
	TimeZone     string `mapstructure:"timezone"`
	Path         string // sqlite 檔案路徑
	LogLevel     string `mapstructure:"log_level"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// ChatConfig 即時連線與訊息管線的參數
type ChatConfig struct {
	MaxConnections   int           `mapstructure:"max_connections"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	MaxContentLength int           `mapstructure:"max_content_length"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PersistTimeout   time.Duration `mapstructure:"persist_timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"` // 每秒允許的事件數
	RateBurst        int           `mapstructure:"rate_burst"`
	DefaultPageSize  int           `mapstructure:"default_page_size"`
	MaxPageSize      int           `mapstructure:"max_page_size"`
}

type UploadConfig struct {
	Dir       string
	URLPrefix string `mapstructure:"url_prefix"`
	MaxSize   int64  `mapstructure:"max_size"`
}

type LogConfig struct {
	Level  string
	Format string // text / json / zap
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "chatdb")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.path", "chat.db")
	v.SetDefault("db.log_level", "warn")
	v.SetDefault("db.max_open_conns", 10)

	v.SetDefault("chat.max_connections", 10000)
	v.SetDefault("chat.send_buffer", 256)
	v.SetDefault("chat.max_message_size", 8192)
	v.SetDefault("chat.max_content_length", 4000)
	v.SetDefault("chat.ping_period", 54*time.Second)
	v.SetDefault("chat.pong_wait", 60*time.Second)
	v.SetDefault("chat.write_wait", 10*time.Second)
	v.SetDefault("chat.persist_timeout", 5*time.Second)
	v.SetDefault("chat.rate_limit", 10.0)
	v.SetDefault("chat.rate_burst", 20)
	v.SetDefault("chat.default_page_size", 20)
	v.SetDefault("chat.max_page_size", 100)

	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("upload.url_prefix", "/uploads")
	v.SetDefault("upload.max_size", 10<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load 讀取配置
// 順序: 預設值 -> config.yaml -> 環境變數 (CHAT_ 前綴, 例如 CHAT_DB_HOST)
func Load(paths ...string) (*Config, error) {
	// .env 不存在時忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./pkg/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("chat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported db driver %q", c.DB.Driver)
	}

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: unsupported server mode %q", c.Server.Mode)
	}

	if c.Chat.MaxConnections <= 0 {
		return errors.New("config: chat.max_connections must be positive")
	}
	if c.Chat.SendBuffer <= 0 {
		return errors.New("config: chat.send_buffer must be positive")
	}
	if c.Chat.PingPeriod <= 0 || c.Chat.PongWait <= c.Chat.PingPeriod {
		return errors.New("config: chat.pong_wait must be greater than chat.ping_period")
	}
	if c.Chat.DefaultPageSize <= 0 || c.Chat.MaxPageSize < c.Chat.DefaultPageSize {
		return errors.New("config: invalid page size settings")
	}
	if c.Chat.RateLimit <= 0 || c.Chat.RateBurst <= 0 {
		return errors.New("config: chat rate limit must be positive")
	}
	if c.Upload.MaxSize <= 0 {
		return errors.New("config: upload.max_size must be positive")
	}

	return nil
}
