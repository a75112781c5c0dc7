package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"playground/internal/pipeline/transpile"
	"playground/internal/sandbox"
	"playground/internal/scheduler"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Env            string
	AllowedOrigins []string
	Log            LogConfig
	Playground     PlaygroundConfig
	ProjectStore   ProjectStoreConfig
	Artifact       ArtifactConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type PlaygroundConfig struct {
	Debounce           time.Duration
	Sandbox            sandbox.Mode
	ExecTimeout        time.Duration
	TranspileCacheSize int
	Template           string
	IdleTimeout        time.Duration
	// RegistryEndpoint is the npm registry used for package search. Empty
	// keeps search offline.
	RegistryEndpoint string
}

type ProjectStoreConfig struct {
	Path string
	DSN  string
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// CanUseS3 reports whether enough is configured to reach object storage.
func (c ArtifactConfig) CanUseS3() bool {
	return c.Enabled && c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8081", "server port")
	flag.Parse()

	return FromEnv(os.Getenv, *port)
}

// FromEnv builds the configuration from getenv, starting at port.
func FromEnv(getenv func(string) string, port string) (*Config, error) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if envPort := env("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			port = envPort
		} else {
			port = ":" + envPort
		}
	}

	appEnv := env("APP_ENV")
	if appEnv == "" {
		appEnv = "local"
	}
	local := strings.EqualFold(appEnv, "local")

	cfg := &Config{
		Port: port,
		Env:  appEnv,
		Log: LogConfig{
			Level:  firstNonEmpty(env("LOG_LEVEL"), "info"),
			Format: firstNonEmpty(env("LOG_FORMAT"), defaultLogFormat(local)),
		},
		ProjectStore: ProjectStoreConfig{
			Path: firstNonEmpty(env("PROJECT_STORE_PATH"), "tmp/projects.json"),
			DSN:  env("PROJECT_STORE_PG_DSN"),
		},
		Artifact: loadArtifactConfig(env, local),
	}
	if origins := env("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}

	pg, err := loadPlaygroundConfig(env)
	if err != nil {
		return nil, err
	}
	cfg.Playground = pg
	if local {
		applyLocalDefaults(cfg, env)
	}
	return cfg, nil
}

func loadPlaygroundConfig(env func(string) string) (PlaygroundConfig, error) {
	pg := PlaygroundConfig{
		Debounce:           scheduler.DefaultDebounce,
		Sandbox:            sandbox.ModeFrame,
		ExecTimeout:        sandbox.DefaultBudget,
		TranspileCacheSize: transpile.DefaultCacheSize,
		Template:           firstNonEmpty(env("PLAYGROUND_TEMPLATE"), "basic"),
		IdleTimeout:        10 * time.Minute,
		RegistryEndpoint:   env("PLAYGROUND_REGISTRY_URL"),
	}
	if raw := env("PLAYGROUND_SANDBOX"); raw != "" {
		mode, ok := sandbox.ParseMode(raw)
		if !ok {
			return pg, fmt.Errorf("PLAYGROUND_SANDBOX: unknown mode %q", raw)
		}
		pg.Sandbox = mode
	}
	var err error
	if pg.Debounce, err = millis(env, "PLAYGROUND_DEBOUNCE_MS", pg.Debounce); err != nil {
		return pg, err
	}
	if pg.ExecTimeout, err = millis(env, "PLAYGROUND_EXEC_TIMEOUT_MS", pg.ExecTimeout); err != nil {
		return pg, err
	}
	if pg.IdleTimeout, err = millis(env, "PLAYGROUND_IDLE_TIMEOUT_MS", pg.IdleTimeout); err != nil {
		return pg, err
	}
	if raw := env("TRANSPILE_CACHE_SIZE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return pg, fmt.Errorf("TRANSPILE_CACHE_SIZE: invalid value %q", raw)
		}
		pg.TranspileCacheSize = n
	}
	return pg, nil
}

func millis(env func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def, fmt.Errorf("%s: invalid value %q", key, raw)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func loadArtifactConfig(env func(string) string, local bool) ArtifactConfig {
	endpoint := env("ARTIFACT_S3_ENDPOINT")
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(env("ARTIFACT_S3_REGION"), "us-east-1"),
		AccessKey: firstNonEmpty(env("ARTIFACT_S3_ACCESS_KEY"), env("MINIO_ROOT_USER")),
		SecretKey: firstNonEmpty(env("ARTIFACT_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD")),
		Bucket:    firstNonEmpty(env("ARTIFACT_S3_BUCKET"), "playground-shares"),
		UseSSL:    resolveArtifactUseSSL(env, local),
	}
}

func resolveArtifactUseSSL(env func(string) string, local bool) bool {
	if local {
		return false
	}
	raw := env("ARTIFACT_S3_USE_SSL")
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func defaultLogFormat(local bool) string {
	if local {
		return "console"
	}
	return "json"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
