package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Panel    PanelConfig    `mapstructure:"panel"`
	Session  SessionConfig  `mapstructure:"session"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Routes   RoutesConfig   `mapstructure:"routes"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PanelConfig 上游面板 API 配置
type PanelConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	GuestConfigPath  string        `mapstructure:"guest_config_path"`
	RegisterPath     string        `mapstructure:"register_path"`
	SendEmailPath    string        `mapstructure:"send_email_path"`
	SubscriptionPath string        `mapstructure:"subscription_path"`
}

// SessionConfig 会话令牌配置
type SessionConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiry     time.Duration `mapstructure:"expiry"`
	Issuer     string        `mapstructure:"issuer"`
	CookieName string        `mapstructure:"cookie_name"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Type              string        `mapstructure:"type"`
	Redis             RedisConfig   `mapstructure:"redis"`
	Memory            MemoryConfig  `mapstructure:"memory"`
	SiteConfigTTL     time.Duration `mapstructure:"site_config_ttl"`
	SubmitLockTTL     time.Duration `mapstructure:"submit_lock_ttl"`
	EmailCodeCooldown time.Duration `mapstructure:"email_code_cooldown"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MemoryConfig 内存缓存配置
type MemoryConfig struct {
	GCInterval time.Duration `mapstructure:"gc_interval"`
}

// DatabaseConfig 审计库配置，type 为 none 时不记录
type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig PostgreSQL配置
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RoutesConfig 前端路由
type RoutesConfig struct {
	Landing        string `mapstructure:"landing"`
	TermsOfService string `mapstructure:"terms_of_service"`
	PrivacyPolicy  string `mapstructure:"privacy_policy"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string      `mapstructure:"allow_origins"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}

// Load 加载配置
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 优先从配置文件加载
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/panel-gateway")
	v.AddConfigPath("$HOME/.panel-gateway")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// 如果设置了环境变量，覆盖配置文件
	setEnvOverrides(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("panel.base_url", "http://localhost:8000")
	v.SetDefault("panel.timeout", 10*time.Second)
	v.SetDefault("panel.guest_config_path", "/api/v1/guest/comm/config")
	v.SetDefault("panel.register_path", "/api/v1/passport/auth/register")
	v.SetDefault("panel.send_email_path", "/api/v1/passport/comm/sendEmailVerify")
	v.SetDefault("panel.subscription_path", "/api/v1/user/getSubscribe")
	v.SetDefault("session.secret", "your-secret-key")
	v.SetDefault("session.expiry", 24*time.Hour)
	v.SetDefault("session.issuer", "panel-gateway")
	v.SetDefault("session.cookie_name", "panel_session")
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.timeout", 3*time.Second)
	v.SetDefault("cache.memory.gc_interval", 10*time.Minute)
	v.SetDefault("cache.site_config_ttl", 5*time.Minute)
	v.SetDefault("cache.submit_lock_ttl", 30*time.Second)
	v.SetDefault("cache.email_code_cooldown", 60*time.Second)
	v.SetDefault("database.type", "none")
	v.SetDefault("database.sqlite.path", "./data/audit.db")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("routes.landing", "/dashboard")
	v.SetDefault("routes.terms_of_service", "/terms-of-service")
	v.SetDefault("routes.privacy_policy", "/privacy-policy")
	v.SetDefault("cors.allow_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.max_age", 12*time.Hour)
}

// setEnvOverrides 设置环境变量覆盖
func setEnvOverrides(v *viper.Viper) {
	// 服务器配置
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		v.Set("server.address", addr)
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		v.Set("server.mode", mode)
	}

	// 上游面板
	if baseURL := os.Getenv("PANEL_BASE_URL"); baseURL != "" {
		v.Set("panel.base_url", baseURL)
	}

	// 会话配置
	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		v.Set("session.secret", secret)
	}

	// Redis配置
	if cacheType := os.Getenv("CACHE_TYPE"); cacheType != "" {
		v.Set("cache.type", cacheType)
	}
	if redisAddr := os.Getenv("REDIS_ADDRESS"); redisAddr != "" {
		v.Set("cache.redis.address", redisAddr)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("cache.redis.password", redisPassword)
	}
	if redisDB := os.Getenv("REDIS_DB"); redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			v.Set("cache.redis.db", db)
		}
	}

	// 数据库配置
	if dbType := os.Getenv("DATABASE_TYPE"); dbType != "" {
		v.Set("database.type", dbType)
	}
	if pgHost := os.Getenv("POSTGRES_HOST"); pgHost != "" {
		v.Set("database.postgres.host", pgHost)
	}
	if pgPort := os.Getenv("POSTGRES_PORT"); pgPort != "" {
		if port, err := strconv.Atoi(pgPort); err == nil {
			v.Set("database.postgres.port", port)
		}
	}
	if pgUser := os.Getenv("POSTGRES_USERNAME"); pgUser != "" {
		v.Set("database.postgres.username", pgUser)
	}
	if pgPassword := os.Getenv("POSTGRES_PASSWORD"); pgPassword != "" {
		v.Set("database.postgres.password", pgPassword)
	}
	if pgDatabase := os.Getenv("POSTGRES_DATABASE"); pgDatabase != "" {
		v.Set("database.postgres.database", pgDatabase)
	}

	if origins := os.Getenv("CORS_ALLOW_ORIGINS"); origins != "" {
		v.Set("cors.allow_origins", strings.Split(origins, ","))
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		v.Set("logging.level", level)
	}
}

// DriverName 返回审计库驱动名，未启用时为空
func (c *Config) DriverName() string {
	switch c.Database.Type {
	case "postgres":
		return "postgres"
	case "sqlite":
		return "sqlite3"
	default:
		return ""
	}
}

// GetDSN 获取数据库连接字符串
func (c *Config) GetDSN() string {
	switch c.Database.Type {
	case "postgres":
		return buildPostgresDSN(c.Database.Postgres)
	case "sqlite":
		return c.Database.SQLite.Path
	default:
		return ""
	}
}

// buildPostgresDSN 构建PostgreSQL DSN
func buildPostgresDSN(config PostgresConfig) string {
	dsn := "host=" + config.Host
	dsn += " port=" + strconv.Itoa(config.Port)
	dsn += " user=" + config.Username
	dsn += " password=" + config.Password
	dsn += " dbname=" + config.Database
	dsn += " sslmode=" + config.SSLMode
	return dsn
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Mode == "production" || c.Server.Mode == "release"
}

// GetGINMode 获取Gin模式
func (c *Config) GetGINMode() string {
	switch c.Server.Mode {
	case "debug":
		return gin.DebugMode
	case "release", "production":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}
