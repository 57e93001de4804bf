package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"10"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Realtime struct {
		Driver  string `envconfig:"REALTIME_DRIVER" default:"postgres"`
		Channel string `envconfig:"REALTIME_CHANNEL" default:"realtime_changes"`
	} `envconfig:""`

	Auth struct {
		JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Leaderboard struct {
		DefaultLimit int           `envconfig:"LEADERBOARD_DEFAULT_LIMIT" default:"20"`
		CacheTTL     time.Duration `envconfig:"LEADERBOARD_CACHE_TTL" default:"30s"`
	} `envconfig:""`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load загружает конфиг из окружения; .env в рабочем каталоге подхватывается, если есть.
func Load() AppConfig {
	_ = godotenv.Load()
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения без побочных эффектов.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
