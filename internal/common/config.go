package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Queue    QueueConfig    `yaml:"queue"`
	Storage  StorageConfig  `yaml:"storage"`
	Extract  ExtractConfig  `yaml:"extract"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // postgres | sqlite
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr    string   `yaml:"grpc_addr"`
	HTTPAddr    string   `yaml:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// LLMConfig holds AI vendor configuration
type LLMConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	VisionModel     string        `yaml:"vision_model"`
	TranscribeModel string        `yaml:"transcribe_model"`
	TTSModel        string        `yaml:"tts_model"`
	TTSVoices       []string      `yaml:"tts_voices"`
	Temperature     float32       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxInputChars   int           `yaml:"max_input_chars"`
	CachePath       string        `yaml:"cache_path"`
}

// QueueConfig mirrors the retry knobs of a framework job: tries, backoff and timeout.
type QueueConfig struct {
	Workers        int             `yaml:"workers"`
	Size           int             `yaml:"size"`
	ProcessTimeout time.Duration   `yaml:"process_timeout"`
	MaxAttempts    int             `yaml:"max_attempts"`
	Backoff        []time.Duration `yaml:"backoff"`
	StaleAfter     time.Duration   `yaml:"stale_after"`
	SweepEvery     time.Duration   `yaml:"sweep_every"`
}

type StorageConfig struct {
	DataDir        string `yaml:"data_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type ExtractConfig struct {
	Pdftotext     string `yaml:"pdftotext"`
	Pdftoppm      string `yaml:"pdftoppm"`
	Ffmpeg        string `yaml:"ffmpeg"`
	HeicConverter string `yaml:"heic_converter"`
	MaxPDFPages   int    `yaml:"max_pdf_pages"`
	MaxLinkBytes  int64  `yaml:"max_link_bytes"`
	MaxTextBytes  int64  `yaml:"max_text_bytes"`
}

type IngestConfig struct {
	WatchDirs []string      `yaml:"watch_dirs"`
	Debounce  time.Duration `yaml:"debounce"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Server: ServerConfig{
			GRPCAddr:    ":8080",
			HTTPAddr:    ":8081",
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
		LLM: LLMConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			VisionModel:     "gpt-4o-mini",
			TranscribeModel: "whisper-1",
			TTSModel:        "tts-1",
			TTSVoices:       []string{"alloy", "nova"},
			Timeout:         90 * time.Second,
			MaxInputChars:   60000,
		},
		Queue: QueueConfig{
			Workers:        4,
			Size:           256,
			ProcessTimeout: 10 * time.Minute,
			MaxAttempts:    3,
			Backoff:        []time.Duration{30 * time.Second, 2 * time.Minute, 5 * time.Minute},
			StaleAfter:     30 * time.Minute,
			SweepEvery:     5 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir:        "./data",
			MaxUploadBytes: 200 * 1024 * 1024,
		},
		Extract: ExtractConfig{
			Pdftotext:     "pdftotext",
			Pdftoppm:      "pdftoppm",
			Ffmpeg:        "ffmpeg",
			HeicConverter: "magick",
			MaxPDFPages:   20,
			MaxLinkBytes:  5 * 1024 * 1024,
			MaxTextBytes:  5 * 1024 * 1024,
		},
		Ingest: IngestConfig{
			Debounce: 2 * time.Second,
		},
	}
}

// LoadConfig loads configuration from an optional YAML file and environment variables.
// A .env file in the working directory is loaded first; real env vars take precedence.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CLEVERNOTE_CONFIG"); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, WrapError(err, "load config file")
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.CORSOrigins = getEnvAsList("CORS_ORIGINS", c.Server.CORSOrigins)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getEnv("OPENAI_MODEL", c.LLM.Model)
	c.LLM.VisionModel = getEnv("OPENAI_VISION_MODEL", c.LLM.VisionModel)
	c.LLM.TranscribeModel = getEnv("OPENAI_TRANSCRIBE_MODEL", c.LLM.TranscribeModel)
	c.LLM.TTSModel = getEnv("OPENAI_TTS_MODEL", c.LLM.TTSModel)
	c.LLM.TTSVoices = getEnvAsList("OPENAI_TTS_VOICES", c.LLM.TTSVoices)
	c.LLM.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvAsDuration("OPENAI_TIMEOUT", c.LLM.Timeout)
	c.LLM.MaxInputChars = getEnvAsInt("LLM_MAX_INPUT_CHARS", c.LLM.MaxInputChars)
	c.LLM.CachePath = getEnv("LLM_CACHE_PATH", c.LLM.CachePath)

	c.Queue.Workers = getEnvAsInt("QUEUE_WORKERS", c.Queue.Workers)
	c.Queue.Size = getEnvAsInt("QUEUE_SIZE", c.Queue.Size)
	c.Queue.ProcessTimeout = getEnvAsDuration("QUEUE_PROCESS_TIMEOUT", c.Queue.ProcessTimeout)
	c.Queue.MaxAttempts = getEnvAsInt("QUEUE_MAX_ATTEMPTS", c.Queue.MaxAttempts)
	c.Queue.Backoff = getEnvAsDurations("QUEUE_BACKOFF", c.Queue.Backoff)
	c.Queue.StaleAfter = getEnvAsDuration("QUEUE_STALE_AFTER", c.Queue.StaleAfter)
	c.Queue.SweepEvery = getEnvAsDuration("QUEUE_SWEEP_EVERY", c.Queue.SweepEvery)

	c.Storage.DataDir = getEnv("DATA_DIR", c.Storage.DataDir)
	c.Storage.MaxUploadBytes = int64(getEnvAsInt("MAX_UPLOAD_MB", int(c.Storage.MaxUploadBytes>>20))) << 20

	c.Extract.Pdftotext = getEnv("PDFTOTEXT_BIN", c.Extract.Pdftotext)
	c.Extract.Pdftoppm = getEnv("PDFTOPPM_BIN", c.Extract.Pdftoppm)
	c.Extract.Ffmpeg = getEnv("FFMPEG_BIN", c.Extract.Ffmpeg)
	c.Extract.HeicConverter = getEnv("HEIC_CONVERTER", c.Extract.HeicConverter)
	c.Extract.MaxPDFPages = getEnvAsInt("MAX_PDF_PAGES", c.Extract.MaxPDFPages)
	c.Extract.MaxLinkBytes = int64(getEnvAsInt("MAX_LINK_MB", int(c.Extract.MaxLinkBytes>>20))) << 20
	c.Extract.MaxTextBytes = int64(getEnvAsInt("MAX_TEXT_MB", int(c.Extract.MaxTextBytes>>20))) << 20

	c.Ingest.WatchDirs = getEnvAsList("WATCH_DIRS", c.Ingest.WatchDirs)
	c.Ingest.Debounce = getEnvAsDuration("WATCH_DEBOUNCE", c.Ingest.Debounce)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvAsDurations parses a comma separated backoff list such as "10s,1m,5m".
func getEnvAsDurations(key string, defaultValue []time.Duration) []time.Duration {
	parts := getEnvAsList(key, nil)
	if len(parts) == 0 {
		return defaultValue
	}
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return defaultValue
		}
		out = append(out, d)
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx", "sqlite", "sqlite3":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres (pgx) or sqlite (sqlite3)", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Queue.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "QUEUE_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if c.Queue.StaleAfter <= c.Queue.ProcessTimeout {
		return NewAppError("CONFIG_ERROR", "QUEUE_STALE_AFTER must be longer than QUEUE_PROCESS_TIMEOUT", ErrInvalidInput)
	}
	if c.Storage.DataDir == "" {
		return NewAppError("CONFIG_ERROR", "DATA_DIR is required", ErrInvalidInput)
	}
	return nil
}
