package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pagegrab/pagegrab/internal/config"
	"github.com/pagegrab/pagegrab/internal/extract"
	"github.com/pagegrab/pagegrab/internal/fetch"
	"github.com/pagegrab/pagegrab/internal/identity"
	"github.com/pagegrab/pagegrab/internal/logger"
	"github.com/pagegrab/pagegrab/internal/paginate"
	"github.com/pagegrab/pagegrab/internal/retry"
	"github.com/pagegrab/pagegrab/internal/session"
	"github.com/pagegrab/pagegrab/internal/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape a paginated catalogue into a single output artifact",
	Long: `Run the scrape loop: log in, walk the catalogue page by page with
bounded retries and identity rotation, and persist all extracted
records once at the end. Partial results from an interrupted or halted
run are flushed too; only a failed login produces no artifact.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()

	// Target
	flags.StringP("base-url", "u", "", "catalogue base URL (required)")
	flags.String("page-pattern", config.DefaultPagePattern, "page URL pattern appended to the base URL")

	// Authentication
	flags.String("auth-mode", "none", "authentication strategy: none, basic, form")
	flags.String("login-url", "", "login endpoint (form mode; optional probe URL for basic)")
	flags.String("username", "", "username (or PAGEGRAB_USERNAME)")
	flags.String("password", "", "password (or PAGEGRAB_PASSWORD)")

	// Transport
	flags.String("fetch-mode", "static", "fetch mode: static, dynamic")
	flags.Duration("timeout", config.DefaultTimeout, "per-attempt timeout")
	flags.String("wait-selector", "", "CSS selector to wait for before reading a rendered page (dynamic mode)")

	// Identity pool
	flags.StringSlice("proxy", nil, "proxy URL (repeatable; default: direct connection)")
	flags.StringSlice("user-agent", nil, "user-agent string (repeatable; default: randomized)")

	// Retry
	flags.Int("max-attempts", config.DefaultMaxAttempts, "max fetch attempts per page")
	flags.Duration("retry-delay-min", 0, "lower bound of the random inter-attempt delay (default by fetch mode)")
	flags.Duration("retry-delay-max", 0, "upper bound of the random inter-attempt delay (default by fetch mode)")

	// Pagination
	flags.IntP("max-pages", "p", config.DefaultMaxPages, "page ceiling")
	flags.Bool("discover-pages", false, "read the page count from the first page's pager widget")
	flags.Int("failure-threshold", config.DefaultFailureThreshold, "consecutive failed pages before halting")
	flags.Duration("page-delay-min", 1*time.Second, "lower bound of the random pause between pages")
	flags.Duration("page-delay-max", 3*time.Second, "upper bound of the random pause between pages")

	// Output
	flags.StringP("output", "o", "scraped_data.json", "output file ('-' for stdout)")
	flags.String("format", "json", "output format: json, jsonl, yaml")

	_ = viper.BindPFlag("base_url", flags.Lookup("base-url"))
	_ = viper.BindPFlag("page_pattern", flags.Lookup("page-pattern"))
	_ = viper.BindPFlag("auth_mode", flags.Lookup("auth-mode"))
	_ = viper.BindPFlag("login_url", flags.Lookup("login-url"))
	_ = viper.BindPFlag("username", flags.Lookup("username"))
	_ = viper.BindPFlag("password", flags.Lookup("password"))
	_ = viper.BindPFlag("fetch_mode", flags.Lookup("fetch-mode"))
	_ = viper.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = viper.BindPFlag("wait_selector", flags.Lookup("wait-selector"))
	_ = viper.BindPFlag("proxies", flags.Lookup("proxy"))
	_ = viper.BindPFlag("user_agents", flags.Lookup("user-agent"))
	_ = viper.BindPFlag("max_attempts", flags.Lookup("max-attempts"))
	_ = viper.BindPFlag("retry_delay_min", flags.Lookup("retry-delay-min"))
	_ = viper.BindPFlag("retry_delay_max", flags.Lookup("retry-delay-max"))
	_ = viper.BindPFlag("max_pages", flags.Lookup("max-pages"))
	_ = viper.BindPFlag("discover_pages", flags.Lookup("discover-pages"))
	_ = viper.BindPFlag("failure_threshold", flags.Lookup("failure-threshold"))
	_ = viper.BindPFlag("page_delay_min", flags.Lookup("page-delay-min"))
	_ = viper.BindPFlag("page_delay_max", flags.Lookup("page-delay-max"))
	_ = viper.BindPFlag("output", flags.Lookup("output"))
	_ = viper.BindPFlag("format", flags.Lookup("format"))
}

func runRun(cmd *cobra.Command, args []string) error {
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  viper.GetBool("log_json"),
	})

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Error("configuration rejected", "error", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr, err := newSessionManager(cfg)
	if err != nil {
		logger.Error("failed to build session manager", "error", err)
		return err
	}

	// Login failure is fatal before pagination begins: no page has been
	// fetched, so there is nothing to flush and no artifact is written.
	sess, err := mgr.Login(ctx)
	if err != nil {
		logger.Error("run aborted", "error", err)
		return err
	}
	defer mgr.Teardown(sess)

	fetcher, baseURL, err := newFetcher(cfg)
	if err != nil {
		logger.Error("failed to build fetcher", "error", err)
		return err
	}
	defer func() { _ = fetcher.Close() }()

	pool := identity.New(cfg.Proxies, cfg.UserAgents, nil)

	retrier := retry.New(retry.Config{
		MaxAttempts:  cfg.MaxAttempts,
		MinDelay:     cfg.RetryDelayMin,
		MaxDelay:     cfg.RetryDelayMax,
		Timeout:      cfg.Timeout,
		WaitSelector: cfg.WaitSelector,
	}, fetcher, pool, mgr, sess, nil)

	engine := extract.New(extract.Selectors{
		Block:        cfg.Selectors.Block,
		Name:         cfg.Selectors.Name,
		NameAttr:     cfg.Selectors.NameAttr,
		Price:        cfg.Selectors.Price,
		Availability: cfg.Selectors.Availability,
	})

	out := sink.New(sink.Format(cfg.Format))

	controller := paginate.New(paginate.Config{
		BaseURL:          baseURL,
		PagePattern:      cfg.PagePattern,
		MaxPages:         cfg.MaxPages,
		FailureThreshold: cfg.FailureThreshold,
		PageDelayMin:     cfg.PageDelayMin,
		PageDelayMax:     cfg.PageDelayMax,
	}, retrier, engine, out, nil)

	logger.Info("starting run",
		"base_url", cfg.BaseURL,
		"fetch_mode", fetcher.Type(),
		"auth_mode", cfg.AuthMode,
		"max_pages", cfg.MaxPages,
		"max_attempts", cfg.MaxAttempts)

	reason := controller.Run(ctx)

	// The sink is flushed whatever halted the loop; partial results are
	// a valid, expected outcome.
	if err := flush(out, cfg.Output); err != nil {
		logger.Error("failed to persist output", "error", err)
		return err
	}

	logger.Info("run complete",
		"halt_reason", reason,
		"records", out.Len(),
		"output", cfg.Output)
	return nil
}

// newSessionManager picks the authentication strategy.
func newSessionManager(cfg config.Config) (session.Manager, error) {
	creds := session.Credentials{Username: cfg.Username, Password: cfg.Password}
	switch cfg.AuthMode {
	case "basic":
		return session.NewBasicAuth(creds, cfg.BaseURL, cfg.LoginURL), nil
	case "form":
		return session.NewFormLogin(creds, cfg.BaseURL, cfg.LoginURL, "", "")
	case "none", "":
		return session.NewNone(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.AuthMode)
	}
}

// newFetcher picks the transport. In dynamic mode with basic auth the
// credentials ride in the navigable URL's authority, the way a browser
// presents them.
func newFetcher(cfg config.Config) (fetch.Fetcher, string, error) {
	baseURL := cfg.BaseURL
	switch cfg.FetchMode {
	case "dynamic":
		if cfg.AuthMode == "basic" {
			authed, err := session.AuthorityURL(cfg.BaseURL, session.Credentials{
				Username: cfg.Username,
				Password: cfg.Password,
			})
			if err != nil {
				return nil, "", err
			}
			baseURL = authed
		}
		return fetch.NewDynamic(fetch.DynamicConfig{
			Timeout:      cfg.Timeout,
			WaitSelector: cfg.WaitSelector,
		}), baseURL, nil
	case "static", "":
		return fetch.NewStatic(fetch.StaticConfig{Timeout: cfg.Timeout}), baseURL, nil
	default:
		return nil, "", fmt.Errorf("unknown fetch mode: %s (use 'static' or 'dynamic')", cfg.FetchMode)
	}
}

func flush(out *sink.Sink, path string) error {
	if path == "-" || path == "" {
		return out.Flush(os.Stdout)
	}
	err := out.FlushFile(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("output directory missing: %w", err)
	}
	return err
}
