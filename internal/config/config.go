package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr        string `env:"COLLAB_ADDR" envDefault:":8788"`
	CORSOrigin  string `env:"COLLAB_CORS_ORIGIN" envDefault:"*"`
	TokenSecret string `env:"COLLAB_TOKEN_SECRET"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"collab.events"`

	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"collab-snapshots"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`

	MeiliURL       string `env:"MEILI_URL"`
	MeiliMasterKey string `env:"MEILI_MASTER_KEY"`

	ReposDir string `env:"COLLAB_REPOS_DIR"`

	LockTimeout            time.Duration `env:"COLLAB_LOCK_TIMEOUT" envDefault:"5s"`
	MaxTransformIterations int           `env:"COLLAB_MAX_TRANSFORM_ITERATIONS" envDefault:"100"`
	PendingHighWater       int           `env:"COLLAB_PENDING_HIGH_WATER" envDefault:"1000"`
	PendingLowWater        int           `env:"COLLAB_PENDING_LOW_WATER" envDefault:"500"`
	MaxBranchDepth         int           `env:"COLLAB_MAX_BRANCH_DEPTH" envDefault:"10"`
	BestEffortLengthMerge  bool          `env:"COLLAB_BEST_EFFORT_LENGTH_MERGE" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.LockTimeout <= 0 {
		return fmt.Errorf("COLLAB_LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	if c.MaxTransformIterations <= 0 {
		return fmt.Errorf("COLLAB_MAX_TRANSFORM_ITERATIONS must be positive, got %d", c.MaxTransformIterations)
	}
	if c.PendingLowWater <= 0 || c.PendingHighWater <= c.PendingLowWater {
		return fmt.Errorf("pending water marks must satisfy 0 < low < high, got low=%d high=%d", c.PendingLowWater, c.PendingHighWater)
	}
	if c.MaxBranchDepth < 0 {
		return fmt.Errorf("COLLAB_MAX_BRANCH_DEPTH must not be negative, got %d", c.MaxBranchDepth)
	}
	return nil
}
