package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultErrorWait is used when wait_times.error_wait is missing.
const DefaultErrorWait = 60

// Config mirrors config.json. Only channels, messages, authorization and wait_times
// are required; everything else has a default.
type Config struct {
	Channels      []string       `mapstructure:"channels"`
	Messages      []string       `mapstructure:"messages"`
	Authorization string         `mapstructure:"authorization"`
	WaitTimes     WaitTimes      `mapstructure:"wait_times"`
	Kick          KickConfig     `mapstructure:"kick"`
	Log           LogConfig      `mapstructure:"log"`
	Metrics       MetricsConfig  `mapstructure:"metrics"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// WaitTimes are whole seconds.
type WaitTimes struct {
	LivestreamActive   Range `mapstructure:"livestream_active"`
	LivestreamInactive int   `mapstructure:"livestream_inactive"`
	ErrorWait          int   `mapstructure:"error_wait"`
}

type Range struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

type KickConfig struct {
	BaseURL         string  `mapstructure:"base_url"`
	RequestTimeout  int     `mapstructure:"request_timeout"` // seconds
	RateLimit       float64 `mapstructure:"rate_limit"`      // requests per second, all channels together
	RateBurst       int     `mapstructure:"rate_burst"`
	MaxRetries      int     `mapstructure:"max_retries"`
	MaxResponseSize int64   `mapstructure:"max_response_size"`
}

type LogConfig struct {
	Dir   string `mapstructure:"dir"`
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the /metrics server
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// LoadOptions selects the config file and the flag set whose values override it.
type LoadOptions struct {
	Path    string         // config file; "config.json" when empty
	EnvFile string         // dotenv file; ".env" when empty
	Flags   *pflag.FlagSet // optional; flags are bound by their viper key name
}

// Load reads configuration in this order (later wins):
// 1. defaults
// 2. config file (JSON or YAML, by extension)
// 3. .env file and environment variables
// 4. command line flags
//
// A missing config file is not an error here; Validate reports the missing fields.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile == "" {
		opts.EnvFile = ".env"
	}
	_ = godotenv.Load(opts.EnvFile)

	v := viper.New()
	setDefaults(v)

	path := opts.Path
	if path == "" {
		path = "config.json"
	}
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	setupEnvAliases(v)

	if opts.Flags != nil {
		if err := bindFlags(v, opts.Flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Lists may come from a JSON/YAML array or from a comma-separated env value.
	cfg.Channels = stringList(v.Get("channels"))
	cfg.Messages = stringList(v.Get("messages"))

	return &cfg, nil
}

func setupEnvAliases(v *viper.Viper) {
	v.BindEnv("channels", "KICK_CHANNELS")
	v.BindEnv("messages", "KICK_MESSAGES")
	v.BindEnv("authorization", "KICK_AUTHORIZATION")

	v.BindEnv("kick.base_url", "KICK_BASE_URL")
	v.BindEnv("kick.request_timeout", "KICK_REQUEST_TIMEOUT")
	v.BindEnv("kick.rate_limit", "KICK_RATE_LIMIT")
	v.BindEnv("kick.max_retries", "KICK_MAX_RETRIES")

	v.BindEnv("log.dir", "LOG_DIR")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("metrics.listen", "METRICS_LISTEN")

	v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("telegram.chat_id", "TELEGRAM_CHAT_ID")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("wait_times.error_wait", DefaultErrorWait)

	v.SetDefault("kick.base_url", "https://kick.com/api/v2")
	v.SetDefault("kick.request_timeout", 15)
	v.SetDefault("kick.rate_limit", 2.0)
	v.SetDefault("kick.rate_burst", 4)
	v.SetDefault("kick.max_retries", 2)
	v.SetDefault("kick.max_response_size", 2*1024*1024)

	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.listen", "")
}

// bindFlags binds every flag that the user actually set, using the flag's
// FlagKeyAnnotation as key when present and its name otherwise.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || !f.Changed {
			return
		}
		key := f.Name
		if keys, ok := f.Annotations[FlagKeyAnnotation]; ok && len(keys) > 0 {
			key = keys[0]
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// FlagKeyAnnotation maps a CLI flag to a config key (e.g. --log-dir -> log.dir).
const FlagKeyAnnotation = "viper_key"

// AnnotateFlag ties a flag to a config key for Load.
func AnnotateFlag(flags *pflag.FlagSet, name, key string) {
	_ = flags.SetAnnotation(name, FlagKeyAnnotation, []string{key})
}

func stringList(raw interface{}) []string {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		items = strings.Split(val, ",")
	case []string:
		items = val
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	}

	result := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			result = append(result, s)
		}
	}
	return result
}

// Validate enforces the startup invariants. Any error here must stop the process
// before a single monitor starts.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("channels: at least one channel is required"))
	}
	if len(c.Messages) == 0 {
		errs = append(errs, errors.New("messages: at least one message is required"))
	}
	if strings.TrimSpace(c.Authorization) == "" {
		errs = append(errs, errors.New("authorization: credential is required"))
	}

	w := c.WaitTimes
	if w.LivestreamActive.Min <= 0 || w.LivestreamActive.Max <= 0 {
		errs = append(errs, errors.New("wait_times.livestream_active: min and max must be > 0"))
	} else if w.LivestreamActive.Min > w.LivestreamActive.Max {
		errs = append(errs, fmt.Errorf("wait_times.livestream_active: min (%d) > max (%d)", w.LivestreamActive.Min, w.LivestreamActive.Max))
	}
	if w.LivestreamInactive <= 0 {
		errs = append(errs, errors.New("wait_times.livestream_inactive: must be > 0"))
	}
	if w.ErrorWait <= 0 {
		errs = append(errs, errors.New("wait_times.error_wait: must be > 0"))
	}

	if c.Kick.RequestTimeout <= 0 {
		errs = append(errs, errors.New("kick.request_timeout: must be > 0"))
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		errs = append(errs, errors.New("telegram: bot_token and chat_id must be set together"))
	}

	return errors.Join(errs...)
}

// RequestTimeout is the per-call upper bound applied to every Kick API request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Kick.RequestTimeout) * time.Second
}
