package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// FeedConfig describes one upstream OData feed (property + media resources).
type FeedConfig struct {
	Name        string
	PropertyURL string
	MediaURL    string
	Token       string
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	Public     FeedConfig
	Restricted FeedConfig

	RequestTimeout  time.Duration
	SinkTimeout     time.Duration
	ProgressEvery   int
	BatchSize       int
	InterBatchPause time.Duration
	PageSize        int
	KeyDelay        time.Duration
	FetchRetryDelay time.Duration
	Retries5xx      int

	PhotoRequiredMarker string

	CursorStore  string
	CursorDBPath string
	CursorName   string

	Debug bool
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	idxURL := getEnv("IDX_PROPERTY_URL", "https://query.ampre.ca/odata/Property")
	vowURL := getEnv("VOW_PROPERTY_URL", idxURL)

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "listings"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "listings123"),
		PostgresDB:       getEnv("POSTGRES_DB", "listings_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		Public: FeedConfig{
			Name:        "idx",
			PropertyURL: idxURL,
			MediaURL:    getEnv("IDX_MEDIA_URL", MediaURLFor(idxURL)),
			Token:       os.Getenv("IDX_TOKEN"),
		},
		Restricted: FeedConfig{
			Name:        "vow",
			PropertyURL: vowURL,
			MediaURL:    getEnv("VOW_MEDIA_URL", MediaURLFor(vowURL)),
			Token:       os.Getenv("VOW_TOKEN"),
		},

		RequestTimeout:  getEnvSeconds("REQUEST_TIMEOUT_SEC", 90*time.Second, 10*time.Second, 300*time.Second),
		SinkTimeout:     getEnvSeconds("SINK_TIMEOUT_SEC", 30*time.Second, 5*time.Second, 300*time.Second),
		ProgressEvery:   clampInt(getEnvInt("PROGRESS_LOG_EVERY", 25), 1, 10000),
		BatchSize:       clampInt(getEnvInt("BATCH_SIZE", 50), 1, 500),
		InterBatchPause: getEnvMillis("INTER_BATCH_PAUSE_MS", 500*time.Millisecond, 0, 30*time.Second),
		PageSize:        clampInt(getEnvInt("PAGE_SIZE", 100), 1, 1000),
		KeyDelay:        getEnvMillis("KEY_DELAY_MS", 150*time.Millisecond, 0, 10*time.Second),
		FetchRetryDelay: getEnvMillis("FETCH_RETRY_DELAY_MS", 2*time.Second, 0, 60*time.Second),
		Retries5xx:      clampInt(getEnvInt("VOW_5XX_RETRIES", 3), 0, 10),

		PhotoRequiredMarker: os.Getenv("PHOTO_REQUIRED_MARKER"),

		CursorStore:  strings.ToLower(getEnv("CURSOR_STORE", "sqlite")),
		CursorDBPath: getEnv("CURSOR_DB_PATH", "./data/cursor.db"),
		CursorName:   getEnv("CURSOR_NAME", "idx+vow"),

		Debug: getEnvBool("DEBUG", false),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// MediaURLFor derives the Media resource URL that sits next to a Property
// resource, e.g. ".../odata/Property" -> ".../odata/Media".
func MediaURLFor(propertyURL string) string {
	u := strings.TrimRight(propertyURL, "/")
	i := strings.LastIndex(u, "/")
	if i < 0 {
		return u + "/Media"
	}
	return u[:i] + "/Media"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback, min, max time.Duration) time.Duration {
	d := time.Duration(getEnvInt(key, int(fallback/time.Second))) * time.Second
	return clampDuration(d, min, max)
}

func getEnvMillis(key string, fallback, min, max time.Duration) time.Duration {
	d := time.Duration(getEnvInt(key, int(fallback/time.Millisecond))) * time.Millisecond
	return clampDuration(d, min, max)
}

func clampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
