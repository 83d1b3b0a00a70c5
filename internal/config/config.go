package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Uploads   UploadsConfig
	Worker    WorkerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	PublicDir       string
	ShutdownTimeout time.Duration
}

type UploadsConfig struct {
	Dir       string
	Mount     string
	MaxSizeMB int
}

// MaxSize returns the upload limit in bytes
func (u UploadsConfig) MaxSize() int64 {
	return int64(u.MaxSizeMB) * 1024 * 1024
}

// WorkerConfig describes how the external generator is launched.
// None of it is interpreted beyond building the command line.
type WorkerConfig struct {
	Interpreter       string
	InterpreterArgs   []string
	Script            string
	WorkDir           string
	Env               []string
	Timeout           time.Duration
	KillGrace         time.Duration
	MaxConcurrent     int
	DefaultFrameCount int
	VerifyResult      bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	GeneratePerHour int
}

// StorageConfig configures optional publishing of results to an S3-compatible bucket
type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	Prefix          string
}

// Enabled reports whether enough settings are present to publish results
func (s StorageConfig) Enabled() bool {
	return s.AccessKeyID != "" && s.SecretAccessKey != "" && s.BucketName != ""
}

func Load() (*Config, error) {
	readSecret("REDIS_PASSWORD")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.public_dir", "PUBLIC_DIR")
	_ = v.BindEnv("server.shutdown_timeout", "SHUTDOWN_TIMEOUT")
	_ = v.BindEnv("uploads.dir", "UPLOADS_DIR")
	_ = v.BindEnv("uploads.mount", "UPLOADS_MOUNT")
	_ = v.BindEnv("uploads.max_size_mb", "UPLOADS_MAX_SIZE_MB")
	_ = v.BindEnv("worker.interpreter", "WORKER_INTERPRETER")
	_ = v.BindEnv("worker.interpreter_args", "WORKER_INTERPRETER_ARGS")
	_ = v.BindEnv("worker.script", "WORKER_SCRIPT")
	_ = v.BindEnv("worker.workdir", "WORKER_WORKDIR")
	_ = v.BindEnv("worker.env", "WORKER_ENV")
	_ = v.BindEnv("worker.timeout", "WORKER_TIMEOUT")
	_ = v.BindEnv("worker.kill_grace", "WORKER_KILL_GRACE")
	_ = v.BindEnv("worker.max_concurrent", "WORKER_MAX_CONCURRENT")
	_ = v.BindEnv("worker.default_frame_count", "WORKER_DEFAULT_FRAME_COUNT")
	_ = v.BindEnv("worker.verify_result", "WORKER_VERIFY_RESULT")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.region", "STORAGE_REGION")
	_ = v.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = v.BindEnv("storage.prefix", "STORAGE_PREFIX")

	// Defaults
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.public_dir", "./web/public")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("uploads.dir", "./uploads")
	v.SetDefault("uploads.mount", "/uploads")
	v.SetDefault("uploads.max_size_mb", 50)
	v.SetDefault("worker.interpreter", "python3")
	v.SetDefault("worker.interpreter_args", []string{"-u"})
	v.SetDefault("worker.script", "./scripts/videoGenerator.py")
	v.SetDefault("worker.workdir", "")
	v.SetDefault("worker.env", []string{})
	v.SetDefault("worker.timeout", 30*time.Minute)
	v.SetDefault("worker.kill_grace", 10*time.Second)
	v.SetDefault("worker.max_concurrent", 1)
	v.SetDefault("worker.default_frame_count", 16)
	v.SetDefault("worker.verify_result", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.generate_per_hour", 10)
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.prefix", "videos")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			Env:             v.GetString("server.env"),
			LogLevel:        v.GetString("server.log_level"),
			PublicDir:       v.GetString("server.public_dir"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Uploads: UploadsConfig{
			Dir:       v.GetString("uploads.dir"),
			Mount:     "/" + strings.Trim(v.GetString("uploads.mount"), "/"),
			MaxSizeMB: v.GetInt("uploads.max_size_mb"),
		},
		Worker: WorkerConfig{
			Interpreter:       v.GetString("worker.interpreter"),
			InterpreterArgs:   v.GetStringSlice("worker.interpreter_args"),
			Script:            v.GetString("worker.script"),
			WorkDir:           v.GetString("worker.workdir"),
			Env:               v.GetStringSlice("worker.env"),
			Timeout:           v.GetDuration("worker.timeout"),
			KillGrace:         v.GetDuration("worker.kill_grace"),
			MaxConcurrent:     v.GetInt("worker.max_concurrent"),
			DefaultFrameCount: v.GetInt("worker.default_frame_count"),
			VerifyResult:      v.GetBool("worker.verify_result"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			BucketName:      v.GetString("storage.bucket_name"),
			PublicURL:       v.GetString("storage.public_url"),
			Prefix:          v.GetString("storage.prefix"),
		},
	}

	if cfg.Worker.MaxConcurrent < 1 {
		cfg.Worker.MaxConcurrent = 1
	}

	return cfg, nil
}
