package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the full harness configuration: ambient settings (logger,
// browser) plus the analytics and timing constants the audit pipeline runs on.
// Site specific overrides are merged on top via MergeSite.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Analytics AnalyticsConfig `mapstructure:"analytics" yaml:"analytics"`
	Timing    TimingConfig    `mapstructure:"timing" yaml:"timing"`
	Report    ReportConfig    `mapstructure:"report" yaml:"report"`
	Site      SiteConfig      `mapstructure:"site" yaml:"site"`
}

// LoggerConfig mirrors the observability package knobs.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the Chrome instance the harness drives.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ScreenshotPath    string        `mapstructure:"screenshot_path" yaml:"screenshot_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// AnalyticsConfig describes what outgoing traffic counts as an analytics hit
// and how its query parameters map onto canonical event fields.
type AnalyticsConfig struct {
	// EndpointSubstrings filters the request stream. A request URL matching
	// any substring is captured; everything else is discarded unseen.
	EndpointSubstrings []string `mapstructure:"endpoint_substrings" yaml:"endpoint_substrings"`

	// Params maps a canonical field name to its raw query parameter aliases,
	// in precedence order. The first alias present in a request wins.
	Params map[string][]string `mapstructure:"params" yaml:"params"`

	// ClickExclusionKeywords disqualify an event from being attributed to a
	// click action (ambient scroll/timer/page_view hits fire on their own).
	ClickExclusionKeywords []string `mapstructure:"click_exclusion_keywords" yaml:"click_exclusion_keywords"`

	// ScrollKeywords must appear in the decoded name/action for an event to
	// classify as a scroll event.
	ScrollKeywords []string `mapstructure:"scroll_keywords" yaml:"scroll_keywords"`

	// MinEventDelay is the earliest an event may arrive after its triggering
	// action and still be attributed to it.
	MinEventDelay time.Duration `mapstructure:"min_event_delay" yaml:"min_event_delay"`

	// CorrelationTimeout bounds how long the correlator waits for an event.
	CorrelationTimeout time.Duration `mapstructure:"correlation_timeout" yaml:"correlation_timeout"`
}

// TimingConfig gathers the delays the form tester and action runner honor.
// FieldDelay is deliberately generous: field completion events need time to
// fire and reach the observer before the next field is touched.
type TimingConfig struct {
	DefaultWait       time.Duration `mapstructure:"default_wait" yaml:"default_wait"`
	FieldDelay        time.Duration `mapstructure:"field_delay" yaml:"field_delay"`
	PreSubmitDelay    time.Duration `mapstructure:"pre_submit_delay" yaml:"pre_submit_delay"`
	SubmitWaitTimeout time.Duration `mapstructure:"submit_wait_timeout" yaml:"submit_wait_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	QuietPeriod       time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
}

// ReportConfig selects the output format and destination.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// NewDefaultConfig returns the base configuration every run starts from.
// Site override files are merged over these values.
func NewDefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "ga4audit",
			MaxSize:     50,
			MaxBackups:  3,
			MaxAge:      14,
			Colors: ColorConfig{
				Debug: "cyan",
				Info:  "green",
				Warn:  "yellow",
				Error: "red",
				Fatal: "magenta",
			},
		},
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    800,
			NavigationTimeout: 60 * time.Second,
			ScreenshotPath:    "ga4audit-failure.png",
		},
		Analytics: AnalyticsConfig{
			EndpointSubstrings: []string{
				"google-analytics.com/g/collect",
				"analytics.google.com/g/collect",
				"/gtag/",
			},
			Params: map[string][]string{
				"eventName":     {"en", "event_name"},
				"eventCategory": {"ep.event_category", "event_category", "ec"},
				"eventAction":   {"ep.event_action", "event_action", "ea"},
				"eventLabel":    {"ep.event_label", "event_label", "el"},
				"formCode":      {"ep.form_code", "form_code"},
				"pageLocation":  {"dl", "page_location"},
				"pageTitle":     {"dt", "page_title"},
				"percentScroll": {"epn.percent_scrolled", "percent_scrolled"},
			},
			ClickExclusionKeywords: []string{"scroll", "timer", "page_view", "user_engagement"},
			ScrollKeywords:         []string{"scroll", "percent_scrolled"},
			MinEventDelay:          100 * time.Millisecond,
			CorrelationTimeout:     8 * time.Second,
		},
		Timing: TimingConfig{
			DefaultWait:       1 * time.Second,
			FieldDelay:        4 * time.Second,
			PreSubmitDelay:    2 * time.Second,
			SubmitWaitTimeout: 10 * time.Second,
			PollInterval:      250 * time.Millisecond,
			QuietPeriod:       1500 * time.Millisecond,
		},
		Report: ReportConfig{
			Format: "text",
			Output: "",
		},
	}
}

// Load reads the config file (if any) and environment overrides into a
// default config. An absent file is fine; a malformed one is not.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		expanded, err := homedir.Expand(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path %q: %w", cfgFile, err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("ga4audit")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GA4AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run on.
func (c *Config) Validate() error {
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive integers")
	}
	if len(c.Analytics.EndpointSubstrings) == 0 {
		return fmt.Errorf("analytics.endpoint_substrings must not be empty")
	}
	if c.Analytics.CorrelationTimeout <= 0 {
		return fmt.Errorf("analytics.correlation_timeout must be positive")
	}
	if c.Analytics.MinEventDelay < 0 {
		return fmt.Errorf("analytics.min_event_delay must not be negative")
	}
	if c.Analytics.MinEventDelay >= c.Analytics.CorrelationTimeout {
		return fmt.Errorf("analytics.min_event_delay must be below the correlation timeout")
	}
	if c.Timing.PollInterval <= 0 {
		return fmt.Errorf("timing.poll_interval must be positive")
	}
	if c.Timing.QuietPeriod <= 0 {
		return fmt.Errorf("timing.quiet_period must be positive")
	}
	for i := range c.Site.Forms {
		if err := c.Site.Forms[i].Validate(); err != nil {
			return fmt.Errorf("site.forms[%d]: %w", i, err)
		}
	}
	return nil
}
