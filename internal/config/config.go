package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Detector    DetectorConfig
	Database    DatabaseConfig
	Recognition RecognitionConfig
	Roster      RosterConfig
	Web         WebConfig
}

type DetectorConfig struct {
	URL string // face detector service base URL (e.g., http://localhost:8000)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type RecognitionConfig struct {
	DistanceThreshold float64 // maximum Euclidean distance for a match (strict less-than)
	RequiredFrames    int     // matched detections required inside one window to mark present
	WindowSeconds     int     // trailing consistency window length
	EmbeddingDim      int     // detector embedding dimensionality
	Matcher           string  // "brute", "pgvector" or "hnsw"
	MinVariance       float64 // liveness floor for mean embedding spread in a window; 0 disables the check
}

// Window returns the consistency window as a duration.
func (c *RecognitionConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

type RosterConfig struct {
	MySQLDSN string // school information system DSN (e.g., sis:sis@tcp(mysql:3306)/sis)
}

type WebConfig struct {
	APIToken           string // static bearer token resolving to the teacher role; empty disables auth
	CaptureSecret      string // HMAC secret for per-session capture tokens; empty disables capture tokens
	IdleSessionSeconds int    // end sessions with no frames for this long; 0 disables the janitor
	FrameConcurrency   int    // parallel frame ingests served before requests queue
}

// IdleSessionTimeout returns the idle-session expiry as a duration.
func (c *WebConfig) IdleSessionTimeout() time.Duration {
	return time.Duration(c.IdleSessionSeconds) * time.Second
}

// recognitionDefaults mirrors the embedded defaults.yaml layout.
type recognitionDefaults struct {
	Recognition struct {
		DistanceThreshold float64 `yaml:"distance_threshold"`
		RequiredFrames    int     `yaml:"required_frames"`
		WindowSeconds     int     `yaml:"window_seconds"`
		EmbeddingDim      int     `yaml:"embedding_dim"`
	} `yaml:"recognition"`
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

// envIntAllowZero is like envInt but accepts zero (used for settings where
// zero means "disabled").
func envIntAllowZero(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a non-negative float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envString reads an environment variable, falling back to a default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var defaults recognitionDefaults
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Detector: DetectorConfig{
			URL: envString("DETECTOR_URL", "http://localhost:8000"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Recognition: RecognitionConfig{
			DistanceThreshold: envFloat("SIMILARITY_THRESHOLD", defaults.Recognition.DistanceThreshold),
			RequiredFrames:    envInt("REQUIRED_CONSECUTIVE_FRAMES", defaults.Recognition.RequiredFrames),
			WindowSeconds:     envInt("CONSISTENCY_WINDOW_SECONDS", defaults.Recognition.WindowSeconds),
			EmbeddingDim:      envInt("EMBEDDING_DIM", defaults.Recognition.EmbeddingDim),
			Matcher:           envString("MATCHER", "brute"),
			MinVariance:       envFloat("LIVENESS_MIN_VARIANCE", 0),
		},
		Roster: RosterConfig{
			MySQLDSN: os.Getenv("ROSTER_MYSQL_DSN"),
		},
		Web: WebConfig{
			APIToken:           os.Getenv("API_TOKEN"),
			CaptureSecret:      os.Getenv("CAPTURE_SECRET"),
			IdleSessionSeconds: envIntAllowZero("SESSION_IDLE_SECONDS", 0),
			FrameConcurrency:   envInt("WEB_FRAME_CONCURRENCY", 8),
		},
	}
}
