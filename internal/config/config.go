package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Ledger drivers.
const (
	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
)

// Quota counter backends.
const (
	QuotaRedis  = "redis"
	QuotaMemory = "memory"
	QuotaLedger = "ledger"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Ledger    LedgerConfig
	Redis     RedisConfig
	Quota     QuotaConfig
	JWT       JWTConfig
	Generator GeneratorConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	NATS      NATSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type LedgerConfig struct {
	Driver         string
	SQLitePath     string
	MigrationsPath string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type QuotaConfig struct {
	Backend string
}

// JWTConfig describes how access tokens from the auth backend are verified.
type JWTConfig struct {
	Secret         string
	Audience       string
	Issuer         string
	DevTokenExpiry time.Duration
}

type GeneratorConfig struct {
	DailyLimit       int
	Model            string
	UpstreamURL      string
	APIKey           string
	Timeout          time.Duration
	UpstreamRPS      float64
	UpstreamBurst    int
	StrictPromptType bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type NATSConfig struct {
	URL string
}

type LogConfig struct {
	Level  string
	Format string
}

// DefaultAllowedOrigins is the production site plus local dev servers.
var DefaultAllowedOrigins = []string{
	"https://awesome-ai-prompts.com",
	"https://www.awesome-ai-prompts.com",
	"http://localhost:5173",
	"http://localhost:8080",
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// .env keys go through the same transform as real environment variables,
	// so GENERATOR_API_KEY lands on generator.api.key either way.
	_ = k.Load(file.Provider(".env"), dotenv.ParserEnv("", ".", envKey))

	// Load environment variables (override .env)
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	return fromKoanf(k)
}

func envKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", "."))
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Ledger: LedgerConfig{
			Driver:         strings.ToLower(k.String("ledger.driver")),
			SQLitePath:     k.String("ledger.sqlite.path"),
			MigrationsPath: k.String("migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		Quota: QuotaConfig{
			Backend: strings.ToLower(k.String("quota.backend")),
		},
		JWT: JWTConfig{
			Secret:   k.String("jwt.secret"),
			Audience: k.String("jwt.audience"),
			Issuer:   k.String("jwt.issuer"),
		},
		Generator: GeneratorConfig{
			DailyLimit:       k.Int("generator.daily.limit"),
			Model:            k.String("generator.model"),
			UpstreamURL:      k.String("generator.upstream.url"),
			APIKey:           k.String("generator.api.key"),
			UpstreamRPS:      k.Float64("generator.upstream.rps"),
			UpstreamBurst:    k.Int("generator.upstream.burst"),
			StrictPromptType: k.Bool("generator.strict.prompt.type"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
		RateLimit: RateLimitConfig{
			Requests: k.Int("ratelimit.requests"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "prompts"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "prompts"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 10
	}
	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = LedgerPostgres
	}
	if cfg.Ledger.SQLitePath == "" {
		cfg.Ledger.SQLitePath = "./data/usage.db"
	}
	if cfg.Ledger.MigrationsPath == "" {
		cfg.Ledger.MigrationsPath = "./migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Quota.Backend == "" {
		cfg.Quota.Backend = QuotaRedis
	}
	if cfg.JWT.Audience == "" {
		cfg.JWT.Audience = "authenticated"
	}
	if cfg.Generator.DailyLimit == 0 {
		cfg.Generator.DailyLimit = 3
	}
	if cfg.Generator.Model == "" {
		cfg.Generator.Model = "google/gemini-2.5-flash"
	}
	if cfg.Generator.UpstreamURL == "" {
		cfg.Generator.UpstreamURL = "https://ai.gateway.lovable.dev/v1"
	}
	if cfg.Generator.UpstreamBurst == 0 {
		cfg.Generator.UpstreamBurst = 1
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	var err error
	cfg.JWT.DevTokenExpiry, err = parseDuration(k, "jwt.dev.token.expiry", "1h")
	if err != nil {
		return nil, fmt.Errorf("parsing jwt dev token expiry: %w", err)
	}
	cfg.Generator.Timeout, err = parseDuration(k, "generator.timeout", "60s")
	if err != nil {
		return nil, fmt.Errorf("parsing generator timeout: %w", err)
	}
	cfg.RateLimit.Window, err = parseDuration(k, "ratelimit.window", "60s")
	if err != nil {
		return nil, fmt.Errorf("parsing rate limit window: %w", err)
	}

	return cfg, nil
}

func parseDuration(k *koanf.Koanf, key, fallback string) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		s = fallback
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
