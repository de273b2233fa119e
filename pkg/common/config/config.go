package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const DateLayout = "2006-01-02"

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int

	// Pipeline inputs
	NotesPath     string
	LabsPath      string
	OutputPath    string
	OutputFormat  string
	ReferenceDate time.Time
	RulesPath     string
	Workers       int

	// Tabular parsing
	Delimiter   rune
	Encoding    string
	NASentinels []string
	LazyQuotes  bool
	Sheet       string

	// Database
	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	ScoreCacheTTL time.Duration

	// Kafka
	KafkaEnabled    bool
	KafkaBrokers    []string
	KafkaGroupID    string
	ScoredTopic     string
	RunRequestTopic string
}

var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultNASentinels mirrors the cell values a dataframe reader treats as missing.
var DefaultNASentinels = []string{"", "NA", "N/A", "NaN", "nan", "NULL", "null", "None", "#N/A"}

// Load reads the environment. Settings that change scoring results (reference date,
// delimiter) are rejected when malformed instead of falling back to their default.
func Load() (*Config, error) {
	referenceDate, err := getDate("CADRISK_REFERENCE_DATE", time.Date(2023, time.December, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	delimiter, err := getRuneEnv("CADRISK_DELIMITER", ',')
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 64*1024*1024)),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 10),

		NotesPath:     getEnv("CADRISK_NOTES_PATH", ""),
		LabsPath:      getEnv("CADRISK_LABS_PATH", ""),
		OutputPath:    getEnv("CADRISK_OUTPUT_PATH", ""),
		OutputFormat:  getEnv("CADRISK_OUTPUT_FORMAT", "csv"),
		ReferenceDate: referenceDate,
		RulesPath:     getEnv("CADRISK_RULES_PATH", ""),
		Workers:       getIntEnv("CADRISK_WORKERS", 1),

		Delimiter:   delimiter,
		Encoding:    getEnv("CADRISK_ENCODING", "utf-8"),
		NASentinels: getStringSliceEnv("CADRISK_NA_VALUES", DefaultNASentinels),
		LazyQuotes:  getBoolEnv("CADRISK_LAZY_QUOTES", false),
		Sheet:       getEnv("CADRISK_SHEET", ""),

		PostgresEnabled:  getBoolEnv("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "synaptica"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "synaptica123"),
		PostgresDB:       getEnv("POSTGRES_DB", "synaptica"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		ScoreCacheTTL: getDuration("SCORE_CACHE_TTL", 24*time.Hour),

		KafkaEnabled:    getBoolEnv("KAFKA_ENABLED", false),
		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "cardiorisk"),
		ScoredTopic:     getEnv("KAFKA_SCORED_TOPIC", "risk-scored-events"),
		RunRequestTopic: getEnv("KAFKA_RUN_REQUEST_TOPIC", "risk-run-requests"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getStringSliceEnv splits on commas. An explicitly set but blank variable is not
// distinguishable from an unset one, so the default applies.
func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	}
	return defaultValue
}

func getRuneEnv(key string, defaultValue rune) (rune, error) {
	value := os.Getenv(key)
	switch value {
	case "":
		return defaultValue, nil
	case `\t`, "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(value) != 1 {
		return 0, fmt.Errorf("%w: %s must be a single character, got %q", ErrInvalidConfig, key, value)
	}
	r, _ := utf8.DecodeRuneInString(value)
	if r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("%w: %s cannot be %q", ErrInvalidConfig, key, value)
	}
	return r, nil
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDate(key string, defaultValue time.Time) (time.Time, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD, got %q", ErrInvalidConfig, key, value)
	}
	return t, nil
}
