package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile = ".env"

	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultEnvironment = "dev"

	defaultOrderTopic = "order-events"

	defaultPaymentTimeout     = 10 * time.Minute
	defaultSweepInterval      = 30 * time.Second
	defaultPickupCodeAttempts = 5
	defaultOverdueBatchSize   = 50

	defaultRateLimitOrdersPerMinute  = 30
	defaultRateLimitDefaultPerMinute = 120
)

// Config aggregates all runtime settings for the canteen API, grouped by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Orders      OrderConfig
	RateLimits  RateLimitConfig
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig points the persistence layer at a project or emulator.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic order lifecycle events are published to.
type PubSubConfig struct {
	ProjectID  string
	OrderTopic string
}

// OrderConfig tunes the order lifecycle engine.
type OrderConfig struct {
	// PaymentTimeout is the window an accepted online order stays payable.
	PaymentTimeout time.Duration
	// SweepInterval is how often the background sweeper cancels overdue orders.
	SweepInterval time.Duration
	// PickupCodeAttempts bounds retries when allocating a unique pickup code.
	PickupCodeAttempts int
	// OverdueBatchSize bounds one expiry scan.
	OverdueBatchSize int
}

// RateLimitConfig carries per-surface request budgets.
type RateLimitConfig struct {
	OrdersPerMinute  int
	DefaultPerMinute int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// EnvironmentValues returns the effective key/value environment map after applying the same
// precedence rules as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		if source == nil {
			return
		}
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			system[key] = parts[1]
		}
		merge(system)
	}

	merge(options.envMap)

	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// and environment variables.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	_ = ctx

	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "CANTEEN_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "CANTEEN_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "CANTEEN_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "CANTEEN_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "CANTEEN_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "CANTEEN_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "CANTEEN_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:  stringWithDefault(lookup, "CANTEEN_PUBSUB_PROJECT_ID", ""),
			OrderTopic: stringWithDefault(lookup, "CANTEEN_PUBSUB_ORDER_TOPIC", defaultOrderTopic),
		},
		Orders: OrderConfig{
			PaymentTimeout:     durationWithDefault(lookup, "CANTEEN_ORDERS_PAYMENT_TIMEOUT", defaultPaymentTimeout),
			SweepInterval:      durationWithDefault(lookup, "CANTEEN_ORDERS_SWEEP_INTERVAL", defaultSweepInterval),
			PickupCodeAttempts: intWithDefault(lookup, "CANTEEN_ORDERS_PICKUP_CODE_ATTEMPTS", defaultPickupCodeAttempts),
			OverdueBatchSize:   intWithDefault(lookup, "CANTEEN_ORDERS_OVERDUE_BATCH", defaultOverdueBatchSize),
		},
		RateLimits: RateLimitConfig{
			OrdersPerMinute:  intWithDefault(lookup, "CANTEEN_RATELIMIT_ORDERS_PER_MIN", defaultRateLimitOrdersPerMinute),
			DefaultPerMinute: intWithDefault(lookup, "CANTEEN_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefaultPerMinute),
		},
	}

	// PubSub project defaults to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.PubSub.OrderTopic) == "" {
		missing = append(missing, "PubSub.OrderTopic")
	}
	if cfg.Orders.PaymentTimeout <= 0 {
		missing = append(missing, "Orders.PaymentTimeout")
	}
	if cfg.Orders.SweepInterval <= 0 {
		missing = append(missing, "Orders.SweepInterval")
	}
	if cfg.Orders.PickupCodeAttempts <= 0 {
		missing = append(missing, "Orders.PickupCodeAttempts")
	}
	if cfg.Orders.OverdueBatchSize <= 0 {
		missing = append(missing, "Orders.OverdueBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
