// Package config loads and validates run configuration from flags,
// environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Defaults for the run-shaping knobs.
const (
	DefaultMaxPages         = 5
	DefaultMaxAttempts      = 5
	DefaultFailureThreshold = 3
	DefaultTimeout          = 30 * time.Second
	DefaultPagePattern      = "page-%d.html"
)

// Selectors configures the extraction engine. Empty fields use the
// engine's built-in catalogue defaults.
type Selectors struct {
	Block        string `mapstructure:"block"`
	Name         string `mapstructure:"name"`
	NameAttr     string `mapstructure:"name_attr"`
	Price        string `mapstructure:"price"`
	Availability string `mapstructure:"availability"`
}

// Config is the full run configuration. The core packages receive the
// pieces they need explicitly; nothing reads this as ambient state.
type Config struct {
	BaseURL  string `mapstructure:"base_url" validate:"required,url"`
	LoginURL string `mapstructure:"login_url" validate:"omitempty,url"`

	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// AuthMode selects the session strategy: none, basic, form.
	AuthMode string `mapstructure:"auth_mode" validate:"oneof=none basic form"`

	// FetchMode selects the transport: static (plain HTTP) or dynamic
	// (headless browser).
	FetchMode string `mapstructure:"fetch_mode" validate:"oneof=static dynamic"`

	// Identity pool. Empty proxy list means direct connections.
	Proxies    []string `mapstructure:"proxies"`
	UserAgents []string `mapstructure:"user_agents"`

	// Pagination.
	MaxPages         int           `mapstructure:"max_pages" validate:"min=0"`
	DiscoverPages    bool          `mapstructure:"discover_pages"`
	PagePattern      string        `mapstructure:"page_pattern"`
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"min=1"`
	PageDelayMin     time.Duration `mapstructure:"page_delay_min" validate:"min=0"`
	PageDelayMax     time.Duration `mapstructure:"page_delay_max" validate:"min=0,gtefield=PageDelayMin"`

	// Retry.
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"min=1"`
	RetryDelayMin time.Duration `mapstructure:"retry_delay_min" validate:"min=0"`
	RetryDelayMax time.Duration `mapstructure:"retry_delay_max" validate:"min=0,gtefield=RetryDelayMin"`

	// Extraction.
	Selectors Selectors `mapstructure:"selectors"`

	// WaitSelector is the browser-mode content-readiness condition.
	WaitSelector string `mapstructure:"wait_selector"`

	// Output.
	Output string `mapstructure:"output"`
	Format string `mapstructure:"format" validate:"oneof=json jsonl yaml"`
}

// SetDefaults registers defaults on a viper instance. Retry delay
// defaults depend on the fetch mode and are resolved in Load.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("auth_mode", "none")
	v.SetDefault("fetch_mode", "static")
	v.SetDefault("max_pages", DefaultMaxPages)
	v.SetDefault("page_pattern", DefaultPagePattern)
	v.SetDefault("failure_threshold", DefaultFailureThreshold)
	v.SetDefault("page_delay_min", 1*time.Second)
	v.SetDefault("page_delay_max", 3*time.Second)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("max_attempts", DefaultMaxAttempts)
	v.SetDefault("format", "json")
	v.SetDefault("output", "scraped_data.json")
}

// Load unmarshals and validates the configuration.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse configuration: %w", err)
	}

	// Lists can arrive as a single delimited string from env vars.
	cfg.Proxies = splitList(cfg.Proxies, ",")
	cfg.UserAgents = splitList(cfg.UserAgents, ";; ")

	// Browser attempts already pay a launch cost per try, so dynamic
	// mode uses a tighter backoff window.
	if cfg.RetryDelayMin == 0 && cfg.RetryDelayMax == 0 {
		if cfg.FetchMode == "dynamic" {
			cfg.RetryDelayMin = 1 * time.Second
			cfg.RetryDelayMax = 3 * time.Second
		} else {
			cfg.RetryDelayMin = 3 * time.Second
			cfg.RetryDelayMax = 10 * time.Second
		}
	}

	if cfg.DiscoverPages {
		cfg.MaxPages = 0
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("invalid configuration: field %s fails %q", e.Field(), e.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.AuthMode != "none" && (c.Username == "" || c.Password == "") {
		return fmt.Errorf("invalid configuration: auth_mode %q requires username and password", c.AuthMode)
	}
	if c.AuthMode == "form" && c.LoginURL == "" {
		return fmt.Errorf("invalid configuration: auth_mode form requires login_url")
	}
	return nil
}

// splitList expands entries that contain the separator, so both
// repeated values and one delimited env string work.
func splitList(in []string, sep string) []string {
	var out []string
	for _, entry := range in {
		for _, part := range strings.Split(entry, sep) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
