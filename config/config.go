package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

// Secrets come from the environment only and never from config.yml.
type Secrets struct {
	SupabaseURL            string `env:"SUPABASE_URL,required,notEmpty"`
	SupabaseAnonKey        string `env:"SUPABASE_ANON_KEY,required,notEmpty"`
	SupabaseServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	SessionSecret          string `env:"SESSION_SECRET"`
	PostgresPassword       string `env:"POSTGRES_PASSWORD"`
	RedisPassword          string `env:"REDIS_PASSWORD"`
	S3AccessKeyID          string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey      string `env:"S3_SECRET_ACCESS_KEY"`
}

type Config struct {
	Mode   string `mapstructure:"mode"`
	Server struct {
		HTTPPort       string        `mapstructure:"HTTPPort"`
		Timeout        time.Duration `mapstructure:"HTTPTimeout"`
		AllowedOrigins []string      `mapstructure:"allowedOrigins"`
	} `mapstructure:"server"`
	Upstream struct {
		Timeout   time.Duration `mapstructure:"timeout"`
		Bucket    string        `mapstructure:"bucket"`
		Folder    string        `mapstructure:"folder"`
		AdminRole string        `mapstructure:"adminRole"`
	} `mapstructure:"upstream"`
	Session struct {
		Backend    string        `mapstructure:"backend"` // memory | sqlite | redis | postgres
		CookieName string        `mapstructure:"cookieName"`
		TTL        time.Duration `mapstructure:"ttl"`
		Secure     bool          `mapstructure:"secure"`
		SQLitePath string        `mapstructure:"sqlitePath"`
		Redis      struct {
			Addr string `mapstructure:"addr"`
			DB   int    `mapstructure:"db"`
		} `mapstructure:"redis"`
		Postgres struct {
			Host     string `mapstructure:"host"`
			Port     string `mapstructure:"port"`
			Username string `mapstructure:"username"`
			DB       string `mapstructure:"db"`
			SSLMode  string `mapstructure:"sslmode"`
		} `mapstructure:"postgres"`
	} `mapstructure:"session"`
	Storage struct {
		Backend string `mapstructure:"backend"` // supabase | s3
		S3      struct {
			Bucket        string `mapstructure:"bucket"`
			Region        string `mapstructure:"region"`
			Endpoint      string `mapstructure:"endpoint"`
			PublicBaseURL string `mapstructure:"publicBaseURL"`
			UsePathStyle  bool   `mapstructure:"usePathStyle"`
		} `mapstructure:"s3"`
	} `mapstructure:"storage"`
	Telemetry struct {
		ServiceName  string `mapstructure:"serviceName"`
		OTLPEndpoint string `mapstructure:"otlpEndpoint"`
	} `mapstructure:"telemetry"`

	Secrets Secrets `mapstructure:"-"`
}

// InitConfig reads config.yml and the environment secrets. Missing backend
// credentials fail fast.
func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	// Add file-based config paths
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err = env.Parse(&config.Secrets); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err = config.Validate(); err != nil {
		return Config{}, err
	}
	fmt.Println("Successfully loaded app configs...")
	return config, nil
}

// Validate checks the combinations viper cannot express.
func (c *Config) Validate() error {
	switch c.Session.Backend {
	case "memory", "sqlite", "redis", "postgres":
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	switch c.Storage.Backend {
	case "supabase":
	case "s3":
		if c.Storage.S3.Bucket == "" || c.Storage.S3.PublicBaseURL == "" {
			return fmt.Errorf("s3 storage requires bucket and publicBaseURL")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Mode != "development" && c.Secrets.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required outside development")
	}
	return nil
}

// SessionSecret returns the cookie signing secret, with a fixed fallback in
// development.
func (c *Config) SessionSecret() string {
	if c.Secrets.SessionSecret != "" {
		return c.Secrets.SessionSecret
	}
	return "development-only-session-secret"
}
