package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix   = "TRACKER_"
	envFileName = "TRACKER_CONFIG_FILE"

	BackendLocal    = "local"
	BackendFirebase = "firebase"

	TransportLog      = "log"
	TransportTelegram = "telegram"
	TransportPush     = "push"
)

type Config struct {
	DatabasePath string `koanf:"database_path"`
	TimezoneName string `koanf:"timezone"`
	ServerPort   string `koanf:"server_port"`

	Backend   string        `koanf:"backend"`
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`

	ReminderTransport string `koanf:"reminder_transport"`
	SMSDestination    string `koanf:"sms_destination"`

	TelegramToken string `koanf:"telegram_bot_token"`

	FirebaseProjectID       string `koanf:"firebase_project_id"`
	FirebaseCredentialsPath string `koanf:"firebase_credentials_path"`

	CalDAVURL      string `koanf:"caldav_url"`
	CalDAVUsername string `koanf:"caldav_username"`
	CalDAVPassword string `koanf:"caldav_password"`
	CalDAVCalendar string `koanf:"caldav_calendar"`

	LogLevel  string `koanf:"log_level"`
	LogPretty bool   `koanf:"log_pretty"`

	Timezone *time.Location `koanf:"-"`
}

func defaults() *Config {
	return &Config{
		DatabasePath:      "./data/eventtracker.db",
		TimezoneName:      "UTC",
		ServerPort:        "8080",
		Backend:           BackendLocal,
		TokenTTL:          24 * time.Hour,
		ReminderTransport: TransportLog,
		SMSDestination:    "5554",
		LogLevel:          "info",
	}
}

// Load reads the optional YAML file named by TRACKER_CONFIG_FILE, then
// TRACKER_* environment variables on top of it.
func Load() (*Config, error) {
	return load(os.Getenv(envFileName))
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			if key == envFileName {
				return "", nil
			}
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env variables: %w", err)
	}

	cfg := defaults()
	err = k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	tz, err := time.LoadLocation(c.TimezoneName)
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}
	c.Timezone = tz

	switch c.Backend {
	case BackendLocal:
		if c.JWTSecret == "" {
			return fmt.Errorf("jwt_secret is required for the local backend")
		}
	case BackendFirebase:
		if c.FirebaseProjectID == "" {
			return fmt.Errorf("firebase_project_id is required for the firebase backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	switch c.ReminderTransport {
	case TransportLog:
	case TransportTelegram:
		if c.TelegramToken == "" {
			return fmt.Errorf("telegram_bot_token is required for the telegram transport")
		}
	case TransportPush:
		if c.Backend != BackendFirebase {
			return fmt.Errorf("push transport needs the firebase backend")
		}
	default:
		return fmt.Errorf("unknown reminder transport %q", c.ReminderTransport)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	return nil
}

// CalDAVEnabled reports whether events are mirrored to a CalDAV calendar.
func (c *Config) CalDAVEnabled() bool {
	return c.CalDAVURL != "" && c.CalDAVUsername != ""
}

// TelegramEnabled reports whether the chat bot runs.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != ""
}
