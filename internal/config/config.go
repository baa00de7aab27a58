package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed tuning.yaml
var tuningYAML []byte

type Config struct {
	Database DatabaseConfig
	MySQL    MySQLConfig
	Detector DetectorConfig
	Tuning   TuningConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// MySQLConfig configures the optional MySQL attendance store.
// When DSN is set, attendance marks are written to MySQL instead of PostgreSQL.
type MySQLConfig struct {
	DSN string // e.g. presence:presence@tcp(mysql:3306)/presence
}

type DetectorConfig struct {
	URL string // face detection/embedding service, defaults to http://localhost:8000
	Dim int    // embedding dimension, defaults to 512
}

// TuningConfig holds recognition tuning values loaded from the embedded
// tuning.yaml. The file exists so the numbers live in one reviewable place;
// environment variables are not consulted for these.
type TuningConfig struct {
	MatchThreshold   float64 `yaml:"match_threshold"`    // default cosine similarity cutoff
	IoUThreshold     float64 `yaml:"iou_threshold"`      // track association cutoff
	TrackTimeoutMS   int     `yaml:"track_timeout_ms"`   // idle track eviction
	FrameQueueSize   int     `yaml:"frame_queue_size"`   // bounded session frame queue
	FrameStride      int     `yaml:"frame_stride"`       // process every Nth dequeued frame
	DequeueTimeoutMS int     `yaml:"dequeue_timeout_ms"` // worker poll interval, bounds stop latency
	ThresholdFloor   float64 `yaml:"threshold_floor"`    // optimal threshold clamp lower bound
	ThresholdCeiling float64 `yaml:"threshold_ceiling"`  // optimal threshold clamp upper bound
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString reads an environment variable with a fallback default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var tuning TuningConfig
	if err := yaml.Unmarshal(tuningYAML, &tuning); err != nil {
		// Embedded file, so this cannot happen with a valid build.
		panic("failed to unmarshal embedded tuning.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		MySQL: MySQLConfig{
			DSN: os.Getenv("MYSQL_ATTENDANCE_DSN"),
		},
		Detector: DetectorConfig{
			URL: envString("DETECTOR_URL", "http://localhost:8000"),
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Tuning: tuning,
	}
}
