package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/logger"
)

var (
	cfg     *config.Config
	log     *logger.Logger
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "dhascan",
	Short: "Signature-based web vulnerability scanner",
	Long: `DhaScan - signature-based web vulnerability scanner

Fingerprints the target, discovers forms, parameters and API endpoints,
runs the applicable probes in parallel and reports only findings that
survive deduplication and false-positive checks.

USAGE:
  dhascan -u https://example.com
  dhascan scan -u https://example.com -o report.html
  dhascan scan -u https://example.com --format pdf -o report.pdf --threads 10
  dhascan scan -u https://example.com --proxy http=http://127.0.0.1:8080 --proxy https=socks5://127.0.0.1:1080

CONFIGURATION:
  Options come from flags, DHASCAN_* environment variables (for example
  DHASCAN_SCAN_THREADS=10) and an optional YAML file passed with --config.

Only scan systems you are authorised to test.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("target") == "" && len(args) == 0 {
			return cmd.Help()
		}
		return runScan(cmd, args)
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return &config.ConfigError{Field: "logger", Reason: err.Error()}
		}
		return nil
	},
}

// Execute runs the root command. Use ExitCode to map the error to a
// process exit status.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "YAML configuration file")

	// Logging configuration
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (json, console)")
	bindFlag("logger.level", "log-level")
	bindFlag("logger.format", "log-format")

	// Target and report
	flags.StringP("url", "u", "", "target URL to scan")
	flags.StringP("output", "o", "", "write the report to this file (default: stdout)")
	flags.String("format", "json", "report format (json, html, pdf)")
	bindFlag("target", "url")
	bindFlag("report.output", "output")
	bindFlag("report.format", "format")

	// Scan options
	flags.Int("threads", 5, "number of probes run in parallel")
	flags.Duration("timeout", 0, "per-request timeout (default 10s)")
	flags.Int("min-confidence", 50, "confidence floor for confirmed findings (0-100)")
	flags.StringToString("proxy", nil, "proxy per target scheme, e.g. http=http://127.0.0.1:8080 (repeatable)")
	flags.StringSlice("categories", nil, "only run probes of these categories")
	flags.Int("max-pages", 0, "pages fetched during discovery (default 20)")
	flags.Int("max-depth", 0, "link depth followed during discovery (default 2)")
	flags.String("user-agent", "", "User-Agent header sent with every request")
	flags.BoolP("verbose", "v", false, "verbose output (debug logging)")
	bindFlag("scan.threads", "threads")
	bindFlag("scan.timeout", "timeout")
	bindFlag("scan.min_confidence", "min-confidence")
	bindFlag("scan.proxy", "proxy")
	bindFlag("scan.categories", "categories")
	bindFlag("scan.max_pages", "max-pages")
	bindFlag("scan.max_depth", "max-depth")
	bindFlag("scan.user_agent", "user-agent")
	bindFlag("scan.verbose", "verbose")

	// Security/Rate limiting
	flags.Float64("rate-limit", 20, "requests per second (0 disables the limit)")
	flags.Int("rate-burst", 10, "rate limit burst size")
	bindFlag("rate_limit.requests_per_second", "rate-limit")
	bindFlag("rate_limit.burst_size", "rate-burst")

	// Telemetry
	flags.Bool("telemetry", false, "export traces over OTLP/HTTP")
	flags.String("telemetry-endpoint", "", "OTLP/HTTP collector endpoint")
	bindFlag("telemetry.enabled", "telemetry")
	bindFlag("telemetry.endpoint", "telemetry-endpoint")

	setDefaults(config.DefaultConfig())
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// setDefaults registers d so that unset flags and env vars fall back to it.
func setDefaults(d *config.Config) {
	viper.SetDefault("logger.level", d.Logger.Level)
	viper.SetDefault("logger.format", d.Logger.Format)
	viper.SetDefault("logger.output_paths", d.Logger.OutputPaths)

	viper.SetDefault("scan.threads", d.Scan.Threads)
	viper.SetDefault("scan.timeout", d.Scan.Timeout)
	viper.SetDefault("scan.min_confidence", d.Scan.MinConfidence)
	viper.SetDefault("scan.user_agent", d.Scan.UserAgent)
	viper.SetDefault("scan.max_pages", d.Scan.MaxPages)
	viper.SetDefault("scan.max_depth", d.Scan.MaxDepth)
	viper.SetDefault("scan.max_body_bytes", d.Scan.MaxBodyBytes)
	viper.SetDefault("scan.max_points", d.Scan.MaxPoints)

	viper.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	viper.SetDefault("rate_limit.burst_size", d.RateLimit.BurstSize)
	viper.SetDefault("rate_limit.min_delay", d.RateLimit.MinDelay)

	viper.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	viper.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	viper.SetDefault("telemetry.exporter_type", d.Telemetry.ExporterType)
	viper.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	viper.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)

	viper.SetDefault("report.format", d.Report.Format)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return &config.ConfigError{Field: "config", Reason: err.Error()}
		}
	}

	viper.SetEnvPrefix("DHASCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return &config.ConfigError{Field: "config", Reason: err.Error()}
	}

	// Unset zero-valued flags keep the defaults.
	d := config.DefaultConfig()
	if cfg.Scan.Timeout <= 0 {
		cfg.Scan.Timeout = d.Scan.Timeout
	}
	if cfg.Scan.MaxPages == 0 {
		cfg.Scan.MaxPages = d.Scan.MaxPages
	}
	if cfg.Scan.MaxDepth == 0 {
		cfg.Scan.MaxDepth = d.Scan.MaxDepth
	}
	if cfg.Scan.UserAgent == "" {
		cfg.Scan.UserAgent = d.Scan.UserAgent
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = d.Telemetry.Endpoint
	}
	if len(cfg.Logger.OutputPaths) == 0 {
		cfg.Logger.OutputPaths = d.Logger.OutputPaths
	}
	if cfg.Scan.Verbose {
		cfg.Logger.Level = "debug"
	}

	return cfg.Validate()
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *logger.Logger {
	return log
}
