package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RouteProvider is one entry in the ordered routing chain. Credentials are
// configuration, never compiled in.
type RouteProvider struct {
	Name    string
	BaseURL string
	APIKey  string
}

// ServerConfig captures all tunable parameters for the tracker process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	RouteProviders     []RouteProvider
	RouteTimeout       time.Duration
	RecomputeInterval  time.Duration
	RouteRetryMax      int
	RouteRetryBase     time.Duration
	FallbackSpeedKmh   float64

	ArrivalRadiusMeters   float64
	ManualOTPRadiusMeters float64
	ArrivalPollInterval   time.Duration
	OTPMaxAttempts        int

	VisibilityLeadMinutes int
	VisibilityFailClosed  bool
	AcceptImmediateWindow time.Duration

	PublisherHeartbeat   time.Duration
	PublisherMinInterval time.Duration
	SubscriberDebounce   time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		KafkaTopic: "provider-locations",

		RouteTimeout:      8 * time.Second,
		RecomputeInterval: 60 * time.Second,
		RouteRetryMax:     3,
		RouteRetryBase:    2 * time.Second,
		FallbackSpeedKmh:  30,

		ArrivalRadiusMeters:   10,
		ManualOTPRadiusMeters: 50,
		ArrivalPollInterval:   10 * time.Second,
		OTPMaxAttempts:        5,

		VisibilityLeadMinutes: 30,
		AcceptImmediateWindow: 15 * time.Minute,

		PublisherHeartbeat:   15 * time.Second,
		PublisherMinInterval: 3 * time.Second,
		SubscriberDebounce:   2 * time.Second,

		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.RouteProviders = loadRouteProviders(&errs)
	setDurationFromEnv(&cfg.RouteTimeout, "ROUTE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.RecomputeInterval, "ROUTE_RECOMPUTE_INTERVAL", &errs)
	setIntFromEnv(&cfg.RouteRetryMax, "ROUTE_RETRY_MAX", &errs)
	setDurationFromEnv(&cfg.RouteRetryBase, "ROUTE_RETRY_BASE", &errs)
	setFloatFromEnv(&cfg.FallbackSpeedKmh, "FALLBACK_SPEED_KMH", &errs)

	setFloatFromEnv(&cfg.ArrivalRadiusMeters, "ARRIVAL_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.ManualOTPRadiusMeters, "MANUAL_OTP_RADIUS_M", &errs)
	setDurationFromEnv(&cfg.ArrivalPollInterval, "ARRIVAL_POLL_INTERVAL", &errs)
	setIntFromEnv(&cfg.OTPMaxAttempts, "OTP_MAX_ATTEMPTS", &errs)

	setIntFromEnv(&cfg.VisibilityLeadMinutes, "VISIBILITY_LEAD_MINUTES", &errs)
	cfg.VisibilityFailClosed = strings.EqualFold(os.Getenv("VISIBILITY_FAIL_CLOSED"), "true")
	setDurationFromEnv(&cfg.AcceptImmediateWindow, "ACCEPT_IMMEDIATE_WINDOW", &errs)

	setDurationFromEnv(&cfg.PublisherHeartbeat, "PUBLISHER_HEARTBEAT", &errs)
	setDurationFromEnv(&cfg.PublisherMinInterval, "PUBLISHER_MIN_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SubscriberDebounce, "SUBSCRIBER_DEBOUNCE", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.FallbackSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("FALLBACK_SPEED_KMH must be > 0"))
	}
	if cfg.ArrivalRadiusMeters <= 0 {
		errs = append(errs, fmt.Errorf("ARRIVAL_RADIUS_M must be > 0"))
	}
	if cfg.ManualOTPRadiusMeters < cfg.ArrivalRadiusMeters {
		errs = append(errs, fmt.Errorf("MANUAL_OTP_RADIUS_M must be >= ARRIVAL_RADIUS_M"))
	}
	if cfg.OTPMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("OTP_MAX_ATTEMPTS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// loadRouteProviders reads ROUTE_PROVIDER_URLS and the parallel
// ROUTE_PROVIDER_KEYS list. An empty list is valid: the resolver then runs
// pure straight-line fallback.
func loadRouteProviders(errs *[]error) []RouteProvider {
	urls := splitAndTrim(os.Getenv("ROUTE_PROVIDER_URLS"))
	if len(urls) == 0 {
		return nil
	}
	keys := splitAndTrim(os.Getenv("ROUTE_PROVIDER_KEYS"))
	if len(keys) != 0 && len(keys) != len(urls) {
		*errs = append(*errs, fmt.Errorf("ROUTE_PROVIDER_KEYS must match ROUTE_PROVIDER_URLS (%d vs %d entries)", len(keys), len(urls)))
	}
	out := make([]RouteProvider, 0, len(urls))
	for i, u := range urls {
		p := RouteProvider{Name: fmt.Sprintf("provider-%d", i+1), BaseURL: u}
		if i < len(keys) {
			p.APIKey = keys[i]
		}
		out = append(out, p)
	}
	return out
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
