// Package commands implements the CLI commands for pagegrab.
package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pagegrab/pagegrab/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "pagegrab",
	Short: "Resilient scraper for paginated, authenticated catalogues",
	Long: `Pagegrab walks a paginated web catalogue page by page, retrying
failed fetches with rotated proxies and user agents, and writes the
extracted records as a single JSON, JSONL or YAML artifact.

Examples:
  # Scrape five pages of an open catalogue
  pagegrab run --base-url "https://books.example/catalogue" --max-pages 5

  # Authenticated run through a headless browser
  pagegrab run --base-url "https://example.com/items" \
      --auth-mode basic --username alice --password secret \
      --fetch-mode dynamic --wait-selector "article.product_pod"

  # Let the pager widget decide how many pages exist
  pagegrab run --base-url "https://books.example/catalogue" --discover-pages`,
}

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.pagegrab.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".pagegrab")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PAGEGRAB")
	viper.AutomaticEnv()

	// Also accept the bare variable names a .env for this tool has
	// traditionally used.
	_ = viper.BindEnv("base_url", "PAGEGRAB_BASE_URL", "BASE_URL")
	_ = viper.BindEnv("login_url", "PAGEGRAB_LOGIN_URL", "LOGIN_URL")
	_ = viper.BindEnv("username", "PAGEGRAB_USERNAME", "USER")
	_ = viper.BindEnv("password", "PAGEGRAB_PASSWORD", "PASSWORD")
	_ = viper.BindEnv("proxies", "PAGEGRAB_PROXIES", "PROXIES")
	_ = viper.BindEnv("user_agents", "PAGEGRAB_USER_AGENTS", "USER_AGENTS")

	config.SetDefaults(viper.GetViper())

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
