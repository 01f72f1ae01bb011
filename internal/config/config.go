package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides (POWERCAL_MQTT_HOST, ...).
const EnvPrefix = "POWERCAL"

// Config represents the full application configuration.
type Config struct {
	Port      string          `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	DB        DBConfig        `mapstructure:"db"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Devices   DevicesConfig   `mapstructure:"devices"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Suggest   SuggestConfig   `mapstructure:"suggest"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// DBConfig points at the session store. The default is an in-memory database.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	ClientID      string        `mapstructure:"client_id"`
	KeepAlive     time.Duration `mapstructure:"keep_alive"`
	Subscriptions []string      `mapstructure:"subscriptions"`
	CommandPrefix string        `mapstructure:"command_prefix"` // cmnd
	GroupTopic    string        `mapstructure:"group_topic"`    // tasmotas
}

// DevicesConfig describes how devices are recognised on the bus.
type DevicesConfig struct {
	Prefix      string `mapstructure:"prefix"`       // topic prefix of device ids
	NameKey     string `mapstructure:"name_key"`     // result key carrying the friendly name
	NameCommand string `mapstructure:"name_command"` // command asking a device for its name
}

// TelemetryConfig drives the rolling averages.
type TelemetryConfig struct {
	Topic       string        `mapstructure:"topic"`
	Report      []string      `mapstructure:"report"` // series written to the log
	Window      time.Duration `mapstructure:"window"`
	ShortWindow time.Duration `mapstructure:"short_window"`
	Timezone    string        `mapstructure:"timezone"` // for timestamps without offset
}

// SuggestConfig seeds the command vocabulary.
type SuggestConfig struct {
	Actions []string `mapstructure:"actions"`
}

// AuthConfig contains operator console credentials and token settings.
type AuthConfig struct {
	SigningKey       string        `mapstructure:"signing_key"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	OperatorUsername string        `mapstructure:"operator_username"`
	OperatorPassword string        `mapstructure:"operator_password"`
}

// Read loads a config file into the global viper instance. An empty path
// searches ./configs/config.yml. Environment variables override file values.
func Read(path string) error {
	return ReadInto(viper.GetViper(), path)
}

// ReadInto is Read for a given viper instance. Every Config key is bound to
// its POWERCAL_ variable, so overrides apply even without a config file.
func ReadInto(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v, reflect.TypeOf(Config{}), ""); err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil // defaults + env only
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindEnv registers the mapstructure key of every leaf field of t.
// Unmarshal only sees keys viper knows about.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			if err := bindEnv(v, f.Type, key); err != nil {
				return err
			}
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Load unmarshals the global viper state into a Config and applies defaults.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals the given viper instance into a Config and applies defaults.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults sets default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DB.Path == "" {
		cfg.DB.Path = ":memory:"
	}

	if cfg.MQTT.Host == "" {
		cfg.MQTT.Host = "localhost"
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "powercal"
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = 30 * time.Second
	}
	if len(cfg.MQTT.Subscriptions) == 0 {
		cfg.MQTT.Subscriptions = []string{"tuning/#", "tele/+/LWT", "stat/+/RESULT", "tui/#"}
	}
	if cfg.MQTT.CommandPrefix == "" {
		cfg.MQTT.CommandPrefix = "cmnd"
	}
	if cfg.MQTT.GroupTopic == "" {
		cfg.MQTT.GroupTopic = "tasmotas"
	}

	if cfg.Devices.Prefix == "" {
		cfg.Devices.Prefix = "tasmota"
	}
	if cfg.Devices.NameKey == "" {
		cfg.Devices.NameKey = "DeviceName"
	}
	if cfg.Devices.NameCommand == "" {
		cfg.Devices.NameCommand = "devicename"
	}

	if cfg.Telemetry.Topic == "" {
		cfg.Telemetry.Topic = "temp_json"
	}
	if len(cfg.Telemetry.Report) == 0 {
		cfg.Telemetry.Report = []string{"living"}
	}
	if cfg.Telemetry.Window == 0 {
		cfg.Telemetry.Window = 5 * time.Minute
	}
	if cfg.Telemetry.ShortWindow == 0 {
		cfg.Telemetry.ShortWindow = time.Minute
	}
	if cfg.Telemetry.Timezone == "" {
		cfg.Telemetry.Timezone = "Local"
	}

	if len(cfg.Suggest.Actions) == 0 {
		cfg.Suggest.Actions = []string{"devicename", "power", "status", "var1", "var2", "var3", "var4"}
	}

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("invalid mqtt port: %d", c.MQTT.Port)
	}
	if c.Telemetry.ShortWindow > c.Telemetry.Window {
		return fmt.Errorf("telemetry short_window %s exceeds window %s", c.Telemetry.ShortWindow, c.Telemetry.Window)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid telemetry timezone: %w", err)
	}
	if strings.Contains(c.Devices.Prefix, "/") {
		return fmt.Errorf("device prefix must not contain '/': %q", c.Devices.Prefix)
	}
	if c.Auth.SigningKey == "" {
		return errors.New("auth signing_key is required")
	}
	if (c.Auth.OperatorUsername == "") != (c.Auth.OperatorPassword == "") {
		return errors.New("auth operator_username and operator_password must be set together")
	}
	return nil
}

// Location resolves the telemetry timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Telemetry.Timezone)
}
