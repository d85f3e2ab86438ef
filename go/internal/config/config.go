// Package config loads the student device settings from an optional YAML
// file, a .env file and the environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/classcast/go/internal/dbconfig"
)

// Transports and stores understood by Validate.
const (
	TransportNATS  = "nats"
	TransportRedis = "redis"

	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// FileEnv names the environment variable pointing at the YAML config file.
const FileEnv = "CLASSCAST_CONFIG"

type Config struct {
	DeviceID          string          `yaml:"device_id"`
	Transport         string          `yaml:"transport"`
	NATSURL           string          `yaml:"nats_url"`
	Redis             RedisConfig     `yaml:"redis"`
	Namespace         string          `yaml:"namespace"`
	AdvertiseInterval time.Duration   `yaml:"advertise_interval"`
	AckDuration       time.Duration   `yaml:"ack_duration"`
	Store             string          `yaml:"store"`
	StorePath         string          `yaml:"store_path"`
	Database          dbconfig.Config `yaml:"database"`
	HTTPAddr          string          `yaml:"http_addr"`
	LogLevel          string          `yaml:"log_level"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Transport:         TransportNATS,
		NATSURL:           "nats://127.0.0.1:4222",
		Redis:             RedisConfig{Addr: "localhost:6379"},
		Namespace:         "0x1234",
		AdvertiseInterval: 100 * time.Millisecond,
		AckDuration:       2 * time.Second,
		Store:             StoreFile,
		StorePath:         "classcast_student.yaml",
		Database:          dbconfig.Default(),
		HTTPAddr:          ":8090",
		LogLevel:          "info",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CLASSCAST_CONFIG, then .env and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg = cfg.withEnv()

	// The shared postgres store keys rows by device id, so a random id would
	// lose the assigned code on every restart.
	if cfg.DeviceID == "" && cfg.Store != StorePostgres {
		cfg.DeviceID = strings.SplitN(uuid.NewString(), "-", 2)[0]
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c Config) withEnv() Config {
	c.DeviceID = getEnv("DEVICE_ID", c.DeviceID)
	c.Transport = strings.ToLower(getEnv("TRANSPORT", c.Transport))
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Namespace = getEnv("BROADCAST_NAMESPACE", c.Namespace)
	c.AdvertiseInterval = getEnvAsDuration("ADVERTISE_INTERVAL", c.AdvertiseInterval)
	c.AckDuration = getEnvAsDuration("ACK_DURATION", c.AckDuration)
	c.Store = strings.ToLower(getEnv("STORE", c.Store))
	c.StorePath = getEnv("STORE_PATH", c.StorePath)
	c.Database = c.Database.WithEnv()
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	return c
}

// Validate reports settings the device cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportNATS, TransportRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	switch c.Store {
	case StoreFile:
		if c.StorePath == "" {
			errs = append(errs, errors.New("store_path is required for the file store"))
		}
	case StorePostgres:
		if c.DeviceID == "" {
			errs = append(errs, errors.New("device_id is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}
	if c.AdvertiseInterval <= 0 {
		errs = append(errs, errors.New("advertise_interval must be positive"))
	}
	if c.AckDuration <= 0 {
		errs = append(errs, errors.New("ack_duration must be positive"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-integer setting")
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring malformed duration")
	}
	return defaultValue
}
