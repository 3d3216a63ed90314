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
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Store struct {
		Driver         string `envconfig:"STORE_DRIVER" default:"postgres"`
		PGDSN          string `envconfig:"PG_DSN"`
		SQLitePath     string `envconfig:"SQLITE_PATH" default:"alarm.db"`
		MigrateOnStart bool   `envconfig:"MIGRATE_ON_START" default:"false"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Driver   string        `envconfig:"QUEUE_DRIVER" default:"redis"`
		Stage    string        `envconfig:"STAGE_QUEUE_KEY" default:"stage_jobs"`
		DedupTTL time.Duration `envconfig:"STAGE_DEDUP_TTL" default:"10m"`
	} `envconfig:""`

	OpenAI struct {
		APIKey         string        `envconfig:"OPENAI_API_KEY"`
		BaseURL        string        `envconfig:"OPENAI_BASE_URL"`
		Model          string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout        time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
		TTSModel       string        `envconfig:"OPENAI_TTS_MODEL" default:"gpt-4o-mini-tts"`
		DefaultVoice   string        `envconfig:"OPENAI_TTS_VOICE" default:"alloy"`
		TTSTimeout     time.Duration `envconfig:"OPENAI_TTS_TIMEOUT" default:"60s"`
		TTSConcurrency int           `envconfig:"OPENAI_TTS_CONCURRENCY" default:"3"`
		TTSRPS         float64       `envconfig:"OPENAI_TTS_RPS" default:"2"`
	} `envconfig:""`

	Storage struct {
		Bucket        string        `envconfig:"STORAGE_BUCKET" default:"audio-files"`
		Region        string        `envconfig:"STORAGE_REGION" default:"us-east-1"`
		Endpoint      string        `envconfig:"STORAGE_ENDPOINT"`
		PublicBaseURL string        `envconfig:"STORAGE_PUBLIC_BASE_URL"`
		AccessKey     string        `envconfig:"STORAGE_ACCESS_KEY"`
		SecretKey     string        `envconfig:"STORAGE_SECRET_KEY"`
		UsePathStyle  bool          `envconfig:"STORAGE_PATH_STYLE" default:"true"`
		Timeout       time.Duration `envconfig:"STORAGE_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Reclaim struct {
		StuckThreshold  time.Duration `envconfig:"STUCK_THRESHOLD" default:"1h"`
		StuckBatch      int           `envconfig:"STUCK_BATCH_SIZE" default:"50"`
		ExpirationBatch int           `envconfig:"EXPIRATION_BATCH_SIZE" default:"50"`
		MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3"`
		RetentionDays   int           `envconfig:"RETENTION_DAYS" default:"2"`
		RunTimeout      time.Duration `envconfig:"RUN_TIMEOUT" default:"10m"`
	} `envconfig:""`

	Stages struct {
		ScriptBatch int `envconfig:"SCRIPT_BATCH_SIZE" default:"10"`
		AudioBatch  int `envconfig:"AUDIO_BATCH_SIZE" default:"5"`
	} `envconfig:""`

	Retry struct {
		MaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
		BaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
		MaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"10s"`
	} `envconfig:""`

	Schedule struct {
		Stuck      string `envconfig:"SCHEDULE_STUCK" default:"*/15 * * * *"`
		Expiration string `envconfig:"SCHEDULE_EXPIRATION" default:"0 3 * * *"`
		Script     string `envconfig:"SCHEDULE_SCRIPT" default:"*/5 * * * *"`
		Audio      string `envconfig:"SCHEDULE_AUDIO" default:"*/5 * * * *"`
	} `envconfig:""`

	Alerts struct {
		TelegramToken string `envconfig:"ALERT_TG_BOT_TOKEN"`
		ChatID        int64  `envconfig:"ALERT_TG_CHAT_ID"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения; .env в рабочей директории необязателен.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг и возвращает ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Location возвращает часовой пояс, в котором считается «сегодня».
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
