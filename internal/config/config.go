package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultBoundariesURL is the Natural Earth 50m admin-0 countries GeoJSON.
const DefaultBoundariesURL = "https://raw.githubusercontent.com/nvkelso/natural-earth-vector/master/geojson/ne_50m_admin_0_countries.geojson"

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Databricks SQL warehouse.
	DatabricksHost        string
	DatabricksToken       string
	DatabricksWarehouseID string
	TopCrisesTable        string
	WaitTimeout           time.Duration
	PollInterval          time.Duration
	MaxPolls              int
	HTTPTimeout           time.Duration

	// Genie space.
	GenieSpaceID      string
	GeniePollInterval time.Duration
	GenieMaxPolls     int

	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	ResultCacheSize int
	ResultCacheTTL  time.Duration

	// Crisis map refresh and publishing.
	BoundariesPath     string
	BoundariesURL      string
	MapRefreshInterval time.Duration
	KafkaBrokers       []string
	KafkaMapTopic      string
}

// Load reads configuration from environment variables, applying defaults where unset.
// Missing Databricks credentials are not an error here: endpoints that need
// them report it per request.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	var errs []error
	duration := func(key, def string, allowZero bool) time.Duration {
		d, err := parseDuration(key, def, allowZero)
		errs = append(errs, err)
		return d
	}
	positive := func(key string, def int) int {
		n, err := parsePositiveInt(key, def)
		errs = append(errs, err)
		return n
	}

	cfg := &Config{
		DatabricksHost:        strings.TrimSpace(os.Getenv("DATABRICKS_SERVER_HOSTNAME")),
		DatabricksToken:       strings.TrimSpace(os.Getenv("DATABRICKS_PAT")),
		DatabricksWarehouseID: warehouseID(),
		TopCrisesTable:        sharedcfg.EnvOrDefault("DATABRICKS_TOP_CRISES_TABLE", "top_crises"),
		WaitTimeout:           duration("DATABRICKS_WAIT_TIMEOUT", "30s", false),
		PollInterval:          duration("STATEMENT_POLL_INTERVAL", "500ms", false),
		MaxPolls:              positive("STATEMENT_MAX_POLLS", 60),
		HTTPTimeout:           duration("DATABRICKS_HTTP_TIMEOUT", "35s", false),

		GenieSpaceID:      strings.TrimSpace(os.Getenv("GENIE_SPACE_ID")),
		GeniePollInterval: duration("GENIE_POLL_INTERVAL", "2s", false),
		GenieMaxPolls:     positive("GENIE_MAX_POLLS", 60),

		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":3001"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		CORSAllowedOrigins: splitList(sharedcfg.EnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		RateLimitBurst:     positive("RATE_LIMIT_BURST", 20),

		ResultCacheSize: positive("RESULT_CACHE_SIZE", 128),
		ResultCacheTTL:  duration("RESULT_CACHE_TTL", "5m", true),

		BoundariesPath:     sharedcfg.EnvOrDefault("BOUNDARIES_PATH", "data/ne_50m_admin_0_countries.geojson"),
		BoundariesURL:      sharedcfg.EnvOrDefault("BOUNDARIES_URL", DefaultBoundariesURL),
		MapRefreshInterval: duration("MAP_REFRESH_INTERVAL", "15m", true),
		KafkaBrokers:       parseBrokers(),
		KafkaMapTopic:      strings.TrimSpace(os.Getenv("KAFKA_MAP_TOPIC")),
	}

	rps, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("RATE_LIMIT_RPS", "10"), 64)
	if err != nil || rps <= 0 {
		errs = append(errs, errors.New("invalid RATE_LIMIT_RPS"))
	}
	cfg.RateLimitRPS = rps

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.KafkaMapTopic != "" && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_MAP_TOPIC is set")
	}

	return cfg, nil
}

// DatabricksConfigured reports whether statements can be executed.
func (c *Config) DatabricksConfigured() bool {
	return c.DatabricksHost != "" && c.DatabricksToken != "" && c.DatabricksWarehouseID != ""
}

// GenieConfigured reports whether Genie questions can be asked.
func (c *Config) GenieConfigured() bool {
	return c.GenieSpaceID != "" && c.DatabricksHost != "" && c.DatabricksToken != ""
}

// PublishEnabled reports whether merged maps are written to Kafka.
func (c *Config) PublishEnabled() bool {
	return c.KafkaMapTopic != "" && len(c.KafkaBrokers) > 0
}

// QualifiedTable returns the crises table, placed in main.default when the
// configured name has no catalog or schema.
func (c *Config) QualifiedTable() string {
	if strings.Contains(c.TopCrisesTable, ".") {
		return c.TopCrisesTable
	}
	return "main.default." + c.TopCrisesTable
}

// warehouseID falls back to the last segment of DATABRICKS_HTTP_PATH
// (/sql/1.0/warehouses/<id>) when DATABRICKS_WAREHOUSE_ID is unset.
func warehouseID() string {
	if id := strings.TrimSpace(os.Getenv("DATABRICKS_WAREHOUSE_ID")); id != "" {
		return id
	}
	path := strings.TrimRight(strings.TrimSpace(os.Getenv("DATABRICKS_HTTP_PATH")), "/")
	if path == "" {
		return ""
	}
	return path[strings.LastIndex(path, "/")+1:]
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseBrokers() []string {
	s := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if s == "" {
		return nil
	}
	return sharedcfg.ParseBrokers(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
