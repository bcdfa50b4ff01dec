package config

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds the configuration for the application.
// Tags used:
// - mapstructure: used by viper to unmarshal
// - default: default value to set if missing
// - required: if "true", error if missing
type AppConfig struct {
	// Environment specifies the runtime environment (e.g., development, production).
	Environment string `mapstructure:"APP_ENV" default:"development"`
	// LogLevel defines the logging verbosity (e.g., debug, info, error).
	LogLevel string `mapstructure:"LOG_LEVEL" default:"info"`
	// ServerPort is the port where the server will listen.
	ServerPort int `mapstructure:"SERVER_PORT" default:"8080"`
	// HookTimeout bounds each post-transition hook.
	HookTimeout time.Duration `mapstructure:"HOOK_TIMEOUT" default:"5s"`
	// ConfirmationTTL expires open confirmation requests. Zero keeps them until resolved.
	ConfirmationTTL time.Duration `mapstructure:"CONFIRMATION_TTL" default:"0s"`

	// Redis holds the cache/pub-sub connection.
	Redis RedisConfig `mapstructure:",squash"`

	// Database holds the delivery store connection.
	Database DatabaseConfig `mapstructure:",squash"`

	// MQTT holds the device location broker settings.
	MQTT MQTTConfig `mapstructure:",squash"`

	// Directions holds the maps provider settings.
	Directions DirectionsConfig `mapstructure:",squash"`

	// Planner holds the route planning policy.
	Planner PlannerConfig `mapstructure:",squash"`

	// Tracker holds the location tracking policy.
	Tracker TrackerConfig `mapstructure:",squash"`
}

// RedisConfig holds the Redis connection URL.
type RedisConfig struct {
	// URL has the form redis://[:password@]host[:port][/database].
	URL string `mapstructure:"REDIS_URL" required:"true"`
}

// DatabaseConfig holds database connection details.
type DatabaseConfig struct {
	// URL is a Postgres connection string. Empty selects the in-memory delivery store.
	URL string `mapstructure:"DATABASE_URL"`
}

// MQTTConfig holds the broker that devices publish location fixes to.
type MQTTConfig struct {
	// Broker is the broker URL (e.g., tcp://localhost:1883). Empty disables the MQTT source.
	Broker string `mapstructure:"MQTT_BROKER"`
	// ClientID identifies this service on the broker. Empty generates one.
	ClientID string `mapstructure:"MQTT_CLIENT_ID"`
	// Username is the broker username.
	Username string `mapstructure:"MQTT_USERNAME"`
	// Password is the broker password.
	Password string `mapstructure:"MQTT_PASSWORD"`
	// TopicPrefix prefixes operator location topics.
	TopicPrefix string `mapstructure:"MQTT_TOPIC_PREFIX" default:"handoff"`
}

// DirectionsConfig holds the directions and geocoding provider settings.
type DirectionsConfig struct {
	// APIKey authenticates against the provider. Empty runs the planner in fallback-only mode.
	APIKey string `mapstructure:"DIRECTIONS_API_KEY"`
	// BaseURL is the provider API root.
	BaseURL string `mapstructure:"DIRECTIONS_BASE_URL" default:"https://maps.googleapis.com/maps/api"`
	// Timeout bounds a single provider HTTP call.
	Timeout time.Duration `mapstructure:"DIRECTIONS_TIMEOUT" default:"10s"`
}

// PlannerConfig holds the route planning policy constants.
type PlannerConfig struct {
	// AverageSpeedKPH estimates fallback leg durations.
	AverageSpeedKPH float64 `mapstructure:"PLANNER_AVERAGE_SPEED_KPH" default:"33"`
	// RouteCacheTTL is how long a computed route may be served from cache.
	RouteCacheTTL time.Duration `mapstructure:"PLANNER_ROUTE_CACHE_TTL" default:"2m"`
	// PlanTimeout bounds a whole plan request.
	PlanTimeout time.Duration `mapstructure:"PLANNER_TIMEOUT" default:"15s"`
	// GeocodeCacheTTL is how long geocoding answers are reused.
	GeocodeCacheTTL time.Duration `mapstructure:"PLANNER_GEOCODE_CACHE_TTL" default:"24h"`
}

// TrackerConfig holds the location acquisition policy.
type TrackerConfig struct {
	// FixTimeout bounds a one-shot location request.
	FixTimeout time.Duration `mapstructure:"TRACKER_FIX_TIMEOUT" default:"10s"`
	// AccuracyThresholdMeters flags fixes coarser than this as inaccurate.
	AccuracyThresholdMeters float64 `mapstructure:"TRACKER_ACCURACY_THRESHOLD_METERS" default:"100"`
	// MaxFixAge is how old a cached fix may be to satisfy a one-shot request.
	MaxFixAge time.Duration `mapstructure:"TRACKER_MAX_FIX_AGE" default:"30s"`
}

// Load loads configuration from .env files and environment variables.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config AppConfig

	if err := processTags(v, &config); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := validateRequired(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// processTags iterates over the struct fields and registers env bindings and defaults in Viper.
func processTags(v *viper.Viper, config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := processTags(v, val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		key := field.Tag.Get("mapstructure")
		defaultValue := field.Tag.Get("default")

		if key != "" {
			if err := v.BindEnv(key); err != nil {
				return fmt.Errorf("bind env %s: %w", key, err)
			}
		}

		if key != "" && defaultValue != "" {
			v.SetDefault(key, defaultValue)
		}
	}
	return nil
}

// validateRequired checks if fields marked as required have non-zero values.
func validateRequired(config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := validateRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		required := field.Tag.Get("required")
		if required == "true" {
			value := val.Field(i)
			if isZero(value) {
				key := field.Tag.Get("mapstructure")
				return fmt.Errorf("missing required configuration: %s", key)
			}
		}
	}
	return nil
}

// isZero checks if a reflect.Value is the zero value for its type.
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.String() == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}
