package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Storage  StorageConfig  `yaml:"storage"`
	Detector DetectorConfig `yaml:"detector"`
	Tracking TrackingConfig `yaml:"tracking"`
	Vision   VisionConfig   `yaml:"vision"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	MetricsAddr string `yaml:"metrics_addr"` // ingestor/worker metrics listener
}

type DatabaseConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Name        string `yaml:"name"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	MaxConns    int    `yaml:"max_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// MigrateURL is the DSN in the form expected by the pgx/v5 migrate driver.
func (d DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type StorageConfig struct {
	ArchiveBatches bool `yaml:"archive_batches"`
	FrameRetention int  `yaml:"frame_retention"` // batches kept per stream; 0 keeps all
}

type DetectorConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"`
	Timeout       time.Duration `yaml:"timeout"`
	MinScore      float64       `yaml:"min_score"` // 0 disables the score filter
	MaxFailures   int           `yaml:"max_failures"`
}

type TrackingConfig struct {
	TrackedClass      string  `yaml:"tracked_class"`
	DistanceThreshold float64 `yaml:"distance_threshold"`
	FrameWidth        int     `yaml:"frame_width"` // used when neither the stream nor the detector provides one
}

type VisionConfig struct {
	WorkerCount int `yaml:"worker_count"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadEnvFile exports the variables of a dotenv file so the PC_* overrides
// can be kept next to the binary. Variables already set in the environment
// win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Tracking.DistanceThreshold < 0 {
		return fmt.Errorf("tracking.distance_threshold must be positive, got %v", c.Tracking.DistanceThreshold)
	}
	if c.Detector.MinScore < 0 || c.Detector.MinScore > 1 {
		return fmt.Errorf("detector.min_score must be in [0,1], got %v", c.Detector.MinScore)
	}
	if c.Storage.FrameRetention < 0 {
		return fmt.Errorf("storage.frame_retention must not be negative, got %d", c.Storage.FrameRetention)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":8081"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "pcount"
	}
	if cfg.Detector.FrameInterval == 0 {
		cfg.Detector.FrameInterval = 100 * time.Millisecond
	}
	if cfg.Detector.Timeout == 0 {
		cfg.Detector.Timeout = 2 * time.Second
	}
	if cfg.Detector.MaxFailures == 0 {
		cfg.Detector.MaxFailures = 50
	}
	if cfg.Tracking.TrackedClass == "" {
		cfg.Tracking.TrackedClass = "person"
	}
	if cfg.Tracking.DistanceThreshold == 0 {
		cfg.Tracking.DistanceThreshold = 50
	}
	if cfg.Tracking.FrameWidth == 0 {
		cfg.Tracking.FrameWidth = 1280
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PC_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PC_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("PC_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PC_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PC_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PC_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PC_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("PC_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("PC_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("PC_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("PC_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("PC_FRAME_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detector.FrameInterval = d
		}
	}
	if v := os.Getenv("PC_DISTANCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracking.DistanceThreshold = f
		}
	}
	if v := os.Getenv("PC_TRACKED_CLASS"); v != "" {
		cfg.Tracking.TrackedClass = v
	}
	if v := os.Getenv("PC_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("PC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
