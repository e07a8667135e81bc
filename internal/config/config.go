// Package config handles engine configuration from a YAML file plus
// environment secrets.
//
// File values get defaults applied, then Validate rejects fatal
// misconfiguration before the engine loop is allowed to start. Secrets
// (the captcha solver API key) come from the environment so they never
// live in the config file; a .env file is honoured when present.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweepd/sweepd/internal/opportunity"
)

// EnvAPIKey is the environment variable holding the solver API key.
// It overrides captcha_solver.api_key from the file.
const EnvAPIKey = "SWEEPD_CAPTCHA_API_KEY"

// Config is the top-level engine configuration.
type Config struct {
	Engine   EngineConfig        `yaml:"engine"`
	Safety   SafetyConfig        `yaml:"safety"`
	Captcha  CaptchaConfig       `yaml:"captcha_solver"`
	Browser  BrowserConfig       `yaml:"browser"`
	Feed     FeedConfig          `yaml:"feed"`
	Store    StoreConfig         `yaml:"store"`
	Notify   NotifyConfig        `yaml:"notifications"`
	API      APIConfig           `yaml:"api"`
	Profile  opportunity.Profile `yaml:"profile"`
	ProxyPool []string           `yaml:"proxy_pool"`
}

// EngineConfig controls the scheduling loop and rate gate.
type EngineConfig struct {
	MaxParticipationsPerDay    int           `yaml:"max_participations_per_day"`
	DelayBetweenParticipations time.Duration `yaml:"delay_between_participations"`
	PriorityThreshold          int           `yaml:"priority_threshold"`
	ErrorCooldown              time.Duration `yaml:"error_cooldown"`
	WorkingHours               WorkingHours  `yaml:"working_hours"`
}

// WorkingHours is the daily local-time window during which automated
// entries are permitted. Bounds are inclusive.
type WorkingHours struct {
	Start string `yaml:"start"` // "HH:MM"
	End   string `yaml:"end"`   // "HH:MM"
}

// SafetyConfig feeds the validator.
type SafetyConfig struct {
	AllowedDomains     []string `yaml:"allowed_domains"`
	BlacklistedDomains []string `yaml:"blacklisted_domains"`
	MaxValueThreshold  float64  `yaml:"max_value_threshold"`
}

// CaptchaConfig controls the solver client and resolver.
type CaptchaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	APIKey       string        `yaml:"api_key"`
	Endpoint     string        `yaml:"endpoint"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// BrowserConfig controls Chrome lifecycle for submissions.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"` // CDP websocket URL; empty = launch local
	Headless         *bool         `yaml:"headless"`
	NavTimeout       time.Duration `yaml:"nav_timeout"`
	SettleTimeout    time.Duration `yaml:"settle_timeout"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// FeedConfig lists opportunity sources and the refresh schedule.
type FeedConfig struct {
	Endpoint   string       `yaml:"endpoint"` // JSON feed URL, optional
	Sources    []FeedSource `yaml:"sources"`
	Schedule   string       `yaml:"schedule"`     // cron spec, default @hourly
	RatePerMin int          `yaml:"rate_per_min"` // per-host fetch budget
}

// FeedSource is one page to probe for offers.
type FeedSource struct {
	Key      string `yaml:"key"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"` // samples | contest | cashback
	Priority int    `yaml:"priority"`
	AutoFill bool   `yaml:"auto_fill"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig enables outcome sinks.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// TelegramConfig configures the Telegram bot sink.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// WebhookConfig configures the outbound webhook sink.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret,omitempty"` // HMAC-SHA256 signing key
}

// APIConfig controls the status HTTP API.
type APIConfig struct {
	Listen string `yaml:"listen"` // empty disables the API
}

// LoadFile reads a YAML configuration file, applies defaults and the
// environment override for the solver API key, and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotenv loads a .env file into the process environment when one
// exists. Missing files are not an error.
func LoadDotenv() {
	_ = godotenv.Load()
}

func (c *Config) applyDefaults() {
	if c.Engine.MaxParticipationsPerDay == 0 {
		c.Engine.MaxParticipationsPerDay = 10
	}
	if c.Engine.DelayBetweenParticipations == 0 {
		c.Engine.DelayBetweenParticipations = 15 * time.Minute
	}
	if c.Engine.PriorityThreshold == 0 {
		c.Engine.PriorityThreshold = 3
	}
	if c.Engine.ErrorCooldown == 0 {
		c.Engine.ErrorCooldown = 30 * time.Second
	}
	if c.Engine.WorkingHours.Start == "" {
		c.Engine.WorkingHours.Start = "09:00"
	}
	if c.Engine.WorkingHours.End == "" {
		c.Engine.WorkingHours.End = "21:00"
	}
	if c.Safety.MaxValueThreshold == 0 {
		c.Safety.MaxValueThreshold = 1000
	}
	if c.Captcha.Endpoint == "" {
		c.Captcha.Endpoint = "https://2captcha.com"
	}
	if c.Captcha.PollInterval == 0 {
		c.Captcha.PollInterval = 5 * time.Second
	}
	if c.Captcha.MaxAttempts == 0 {
		c.Captcha.MaxAttempts = 20
	}
	if c.Browser.Headless == nil {
		headless := true
		c.Browser.Headless = &headless
	}
	if c.Browser.NavTimeout == 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Browser.SettleTimeout == 0 {
		c.Browser.SettleTimeout = 20 * time.Second
	}
	if c.Feed.Schedule == "" {
		c.Feed.Schedule = "@hourly"
	}
	if c.Feed.RatePerMin == 0 {
		c.Feed.RatePerMin = 10
	}
	if c.Store.Path == "" {
		c.Store.Path = "sweepd.db"
	}
	for i := range c.Feed.Sources {
		if c.Feed.Sources[i].Priority == 0 {
			c.Feed.Sources[i].Priority = 5
		}
	}
}

func (c *Config) applyEnv() {
	if key := os.Getenv(EnvAPIKey); key != "" {
		c.Captcha.APIKey = key
	}
}

// Validate rejects configurations the loop must not start with.
func (c *Config) Validate() error {
	if c.Engine.MaxParticipationsPerDay <= 0 {
		return fmt.Errorf("config: max_participations_per_day must be > 0, got %d", c.Engine.MaxParticipationsPerDay)
	}
	if c.Engine.DelayBetweenParticipations < time.Second {
		return fmt.Errorf("config: delay_between_participations must be >= 1s, got %s", c.Engine.DelayBetweenParticipations)
	}
	if c.Engine.PriorityThreshold < 1 || c.Engine.PriorityThreshold > 10 {
		return fmt.Errorf("config: priority_threshold must be in 1..10, got %d", c.Engine.PriorityThreshold)
	}
	start, err := ParseClock(c.Engine.WorkingHours.Start)
	if err != nil {
		return fmt.Errorf("config: working_hours.start: %w", err)
	}
	end, err := ParseClock(c.Engine.WorkingHours.End)
	if err != nil {
		return fmt.Errorf("config: working_hours.end: %w", err)
	}
	if start > end {
		return fmt.Errorf("config: working_hours start %q after end %q", c.Engine.WorkingHours.Start, c.Engine.WorkingHours.End)
	}
	for _, p := range c.ProxyPool {
		if _, err := url.Parse(p); err != nil {
			return fmt.Errorf("config: proxy %q: %w", p, err)
		}
	}
	return nil
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}

// WindowMinutes returns the working-hours bounds as minutes since
// midnight. Call only after Validate has accepted the config.
func (c *Config) WindowMinutes() (start, end int) {
	start, _ = ParseClock(c.Engine.WorkingHours.Start)
	end, _ = ParseClock(c.Engine.WorkingHours.End)
	return start, end
}

// Redacted returns a copy safe to expose over the status API: secrets
// are masked, everything else is as loaded.
func (c *Config) Redacted() Config {
	out := *c
	if out.Captcha.APIKey != "" {
		out.Captcha.APIKey = "***"
	}
	if out.Notify.Telegram.BotToken != "" {
		out.Notify.Telegram.BotToken = "***"
	}
	if out.Notify.Webhook.Secret != "" {
		out.Notify.Webhook.Secret = "***"
	}
	masked := make([]string, len(out.ProxyPool))
	for i, p := range out.ProxyPool {
		masked[i] = maskProxy(p)
	}
	out.ProxyPool = masked
	return out
}

func maskProxy(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("***")
	return u.String()
}
