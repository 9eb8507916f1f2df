package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported store drivers.
const (
	DriverSurreal  = "surreal"
	DriverPostgres = "postgres"
)

// ErrMissingConfig is returned by Validate when a required variable is not set.
var ErrMissingConfig = errors.New("missing required configuration")

// Provider exposes the application configuration to the rest of the code base.
// Components depend on this interface rather than on the concrete Config.
type Provider interface {
	GetAppAddr() string
	GetJWTSecret() string
	GetJWTIssuer() string

	GetDBDriver() string
	GetDBUrl() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetPostgresDSN() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration

	GetHandshakeTimeout() time.Duration
	GetWriteTimeout() time.Duration
	GetPingInterval() time.Duration
	GetSendQueueSize() int
	GetReadLimit() int64
	GetEventsPerSecond() float64
	GetEventBurst() int
	GetCloseSuperseded() bool
	GetAllowedOrigins() []string

	GetPubSubBuffer() int64
}

// Config holds all configuration for the application.
type Config struct {
	AppAddr   string
	JWTSecret string
	JWTIssuer string

	DBDriver         string
	DBUrl            string
	DBNs             string
	DBDb             string
	DBUser           string
	DBPass           string
	PostgresDSN      string
	DBQueryTimeout   time.Duration
	DBExecuteTimeout time.Duration

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	SendQueueSize    int
	ReadLimit        int64
	EventsPerSecond  float64
	EventBurst       int
	CloseSuperseded  bool
	AllowedOrigins   []string

	PubSubBuffer int64
}

// New loads configuration from environment variables.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment without
// touching any .env file. Unset variables fall back to their defaults.
func FromEnv() *Config {
	return &Config{
		AppAddr:   getEnv("APP_ADDR", ":8080"),
		JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		JWTIssuer: getEnv("AUTH_JWT_ISSUER", "pulse"),

		DBDriver:         strings.ToLower(getEnv("DB_DRIVER", DriverSurreal)),
		DBUrl:            os.Getenv("SURREAL_URL"),
		DBNs:             os.Getenv("SURREAL_NS"),
		DBDb:             os.Getenv("SURREAL_DB"),
		DBUser:           os.Getenv("SURREAL_USER"),
		DBPass:           os.Getenv("SURREAL_PASS"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		DBQueryTimeout:   getDuration("DB_QUERY_TIMEOUT", 5*time.Second),
		DBExecuteTimeout: getDuration("DB_EXECUTE_TIMEOUT", 10*time.Second),

		HandshakeTimeout: getDuration("GATEWAY_HANDSHAKE_TIMEOUT", 10*time.Second),
		WriteTimeout:     getDuration("GATEWAY_WRITE_TIMEOUT", 10*time.Second),
		PingInterval:     getDuration("GATEWAY_PING_INTERVAL", 30*time.Second),
		SendQueueSize:    getInt("GATEWAY_SEND_QUEUE", 256),
		ReadLimit:        int64(getInt("GATEWAY_READ_LIMIT", 64*1024)),
		EventsPerSecond:  getFloat("GATEWAY_EVENTS_PER_SECOND", 20),
		EventBurst:       getInt("GATEWAY_EVENT_BURST", 40),
		CloseSuperseded:  getBool("GATEWAY_CLOSE_SUPERSEDED", false),
		AllowedOrigins:   getList("GATEWAY_ALLOWED_ORIGINS"),

		PubSubBuffer: int64(getInt("PUBSUB_OUTPUT_BUFFER", 0)),
	}
}

// Validate reports every required variable that is missing for the selected driver.
func (c *Config) Validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}

	switch c.DBDriver {
	case DriverSurreal:
		if c.DBUrl == "" {
			missing = append(missing, "SURREAL_URL")
		}
		if c.DBNs == "" {
			missing = append(missing, "SURREAL_NS")
		}
		if c.DBDb == "" {
			missing = append(missing, "SURREAL_DB")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			missing = append(missing, "POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("GATEWAY_SEND_QUEUE must be positive, got %d", c.SendQueueSize)
	}
	return nil
}

func (c *Config) GetAppAddr() string   { return c.AppAddr }
func (c *Config) GetJWTSecret() string { return c.JWTSecret }
func (c *Config) GetJWTIssuer() string { return c.JWTIssuer }

func (c *Config) GetDBDriver() string                { return c.DBDriver }
func (c *Config) GetDBUrl() string                   { return c.DBUrl }
func (c *Config) GetDBNs() string                    { return c.DBNs }
func (c *Config) GetDBDb() string                    { return c.DBDb }
func (c *Config) GetDBUser() string                  { return c.DBUser }
func (c *Config) GetDBPass() string                  { return c.DBPass }
func (c *Config) GetPostgresDSN() string             { return c.PostgresDSN }
func (c *Config) GetDBQueryTimeout() time.Duration   { return c.DBQueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration { return c.DBExecuteTimeout }

func (c *Config) GetHandshakeTimeout() time.Duration { return c.HandshakeTimeout }
func (c *Config) GetWriteTimeout() time.Duration     { return c.WriteTimeout }
func (c *Config) GetPingInterval() time.Duration     { return c.PingInterval }
func (c *Config) GetSendQueueSize() int              { return c.SendQueueSize }
func (c *Config) GetReadLimit() int64                { return c.ReadLimit }
func (c *Config) GetEventsPerSecond() float64        { return c.EventsPerSecond }
func (c *Config) GetEventBurst() int                 { return c.EventBurst }
func (c *Config) GetCloseSuperseded() bool           { return c.CloseSuperseded }
func (c *Config) GetAllowedOrigins() []string        { return c.AllowedOrigins }

func (c *Config) GetPubSubBuffer() int64 { return c.PubSubBuffer }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Invalid duration for %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid integer for %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Invalid number for %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Invalid boolean for %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

// getList splits a comma separated variable, dropping empty entries.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
