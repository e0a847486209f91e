package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values come from defaults, then an optional YAML file named by CONFIG_FILE,
// then environment variables, so the binary can run locally without setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisGeoKey   string `yaml:"redis_geo_key" validate:"required"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic" validate:"required"`

	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange" validate:"required"`

	PGDSN         string `yaml:"pg_dsn"`
	RunMigrations bool   `yaml:"migrate"`

	MatchThresholdKm float64       `yaml:"match_threshold_km" validate:"gt=0"`
	MatcherTopN      int           `yaml:"matcher_top_n" validate:"gt=0"`
	IndexStepKm      float64       `yaml:"index_step_km" validate:"gt=0"`
	DefaultSpeedMps  float64       `yaml:"default_speed_mps" validate:"gt=0"`
	OSRMEndpoint     string        `yaml:"osrm_endpoint" validate:"omitempty,url"`
	RouteCacheTTL    time.Duration `yaml:"route_cache_ttl"`

	CommissionMinor int64  `yaml:"commission_minor" validate:"gte=0"`
	Currency        string `yaml:"currency" validate:"required,len=3,lowercase"`
	StripeAPIKey    string `yaml:"stripe_api_key"`

	OTPLength int           `yaml:"otp_length" validate:"gte=4,lte=8"`
	OTPTTL    time.Duration `yaml:"otp_ttl" validate:"gte=0"`

	PendingTTL          time.Duration `yaml:"pending_ttl" validate:"gt=0"`
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval" validate:"gte=0"`

	JWTSecret     string        `yaml:"jwt_secret"`
	PushEndpoint  string        `yaml:"push_endpoint" validate:"omitempty,url"`
	FCMEndpoint   string        `yaml:"fcm_endpoint" validate:"omitempty,url"`
	FCMKey        string        `yaml:"fcm_key" validate:"required_with=FCMEndpoint"`
	NotifyTimeout time.Duration `yaml:"notify_timeout" validate:"gt=0"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn warning error"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisGeoKey:      "rides_geo",
		KafkaTopic:       "booking-events",
		AMQPExchange:     "rideshare.notifications",
		MatchThresholdKm: 5,
		MatcherTopN:      20,
		IndexStepKm:      1,
		DefaultSpeedMps:  10,
		RouteCacheTTL:    10 * time.Minute,
		CommissionMinor:  5000,
		Currency:         "inr",
		OTPLength:        4,
		PendingTTL:       30 * time.Minute,
		NotifyTimeout:    5 * time.Second,
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v, ok := os.LookupEnv("REDIS_PASSWORD"); ok {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.AMQPURL, "AMQP_URL")
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	if v := os.Getenv("MIGRATE"); v != "" {
		cfg.RunMigrations = strings.EqualFold(v, "true")
	}

	setFloatFromEnv(&cfg.MatchThresholdKm, "MATCH_THRESHOLD_KM", &errs)
	setIntFromEnv(&cfg.MatcherTopN, "MATCHER_TOP_N", &errs)
	setFloatFromEnv(&cfg.IndexStepKm, "INDEX_STEP_KM", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "MATCHER_DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	setInt64FromEnv(&cfg.CommissionMinor, "COMMISSION_MINOR", &errs)
	if v := strings.TrimSpace(os.Getenv("CURRENCY")); v != "" {
		cfg.Currency = strings.ToLower(v)
	}
	setStringFromEnv(&cfg.StripeAPIKey, "STRIPE_API_KEY")

	setIntFromEnv(&cfg.OTPLength, "OTP_LENGTH", &errs)
	setDurationFromEnv(&cfg.OTPTTL, "OTP_TTL", &errs)
	setDurationFromEnv(&cfg.PendingTTL, "PENDING_TTL", &errs)
	setDurationFromEnv(&cfg.ExpirySweepInterval, "EXPIRY_SWEEP_INTERVAL", &errs)

	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	setStringFromEnv(&cfg.FCMEndpoint, "FCM_ENDPOINT")
	setStringFromEnv(&cfg.FCMKey, "FCM_KEY")
	setDurationFromEnv(&cfg.NotifyTimeout, "NOTIFY_TIMEOUT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ConsumerConfig configures the notification inbox consumer.
type ConsumerConfig struct {
	KafkaBrokers  []string `validate:"required,min=1"`
	KafkaTopic    string   `validate:"required"`
	KafkaGroupID  string   `validate:"required"`
	RedisAddr     string   `validate:"required"`
	RedisPassword string
	InboxSize     int           `validate:"gt=0"`
	MaxAttempts   int           `validate:"gt=0"`
	RetryBackoff  time.Duration `validate:"gt=0"`
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "booking-events",
		KafkaGroupID: "notification-inbox",
		RedisAddr:    "localhost:6379",
		InboxSize:    100,
		MaxAttempts:  3,
		RetryBackoff: 200 * time.Millisecond,
		LogLevel:     "info",
	}
	var errs []error
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroupID, "KAFKA_GROUP_ID")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setIntFromEnv(&cfg.InboxSize, "INBOX_SIZE", &errs)
	setIntFromEnv(&cfg.MaxAttempts, "CONSUMER_MAX_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryBackoff, "CONSUMER_RETRY_BACKOFF", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadYAML(path string, cfg *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
