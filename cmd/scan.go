package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/report"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/scanner"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/shutdown"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const shutdownTimeout = 5 * time.Second

var scanCmd = &cobra.Command{
	Use:   "scan [url]",
	Short: "Scan a web application for vulnerabilities",
	Long: `Run a full scan against one target: baseline request, technology
fingerprinting, discovery, parallel probes and confirmation.

The report is written to --output in the chosen --format, or to stdout for
json and html when no output file is given. A summary is printed to stderr.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	target := viper.GetString("target")
	if len(args) == 1 {
		if target != "" && target != args[0] {
			return &config.ConfigError{Field: "url", Reason: "given both as flag and argument"}
		}
		target = args[0]
	}
	if target == "" {
		return &config.ConfigError{Field: "url", Reason: "a target URL is required (-u)"}
	}
	if err := scanner.ValidateTarget(target); err != nil {
		return err
	}

	format, err := resolveFormat(cfg.Report.Format, cfg.Report.Output, cmd.Flags().Changed("format"))
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}

	tel, err := telemetry.New(parent, cfg.Telemetry)
	if err != nil {
		log.Warnw("Telemetry disabled", "error", err)
		tel = telemetry.NewNoop()
	}

	sh := shutdown.NewHandler(log)
	sh.RegisterShutdownFunc(log.Sync)
	sh.RegisterShutdownFunc(tel.Close)
	defer func() {
		if err := sh.ShutdownWithTimeout(shutdownTimeout); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}()

	ctx, stop := sh.Notify(parent)
	defer stop()

	s, err := scanner.New(cfg, log, scanner.WithTelemetry(tel))
	if err != nil {
		return err
	}

	// the report may be written to stdout
	color.Output = os.Stderr
	color.Cyan("[*] Scanning %s with %d threads\n", target, cfg.Scan.Threads)
	result, scanErr := s.Scan(ctx, target)
	if result == nil {
		return scanErr
	}
	if result.Interrupted {
		color.Yellow("\n[!] Scan interrupted, reporting partial results\n")
	}

	if err := writeReport(result, format, cfg.Report.Output); err != nil {
		return err
	}
	printSummary(result)
	if cfg.Report.Output != "" {
		color.Green("[+] Report saved to: %s\n", cfg.Report.Output)
	}
	return scanErr
}

// resolveFormat picks the report format. An explicit --format wins;
// otherwise the output file extension decides.
func resolveFormat(flagValue, output string, explicit bool) (report.Format, error) {
	if !explicit && output != "" {
		if f, ok := report.FormatFromPath(output); ok {
			return f, nil
		}
	}
	f, err := report.ParseFormat(flagValue)
	if err != nil {
		return "", &config.ConfigError{Field: "format", Reason: err.Error()}
	}
	if f == report.FormatPDF && output == "" {
		return "", &config.ConfigError{Field: "output", Reason: "pdf reports need an output file (-o)"}
	}
	return f, nil
}

func writeReport(result *types.ScanResult, format report.Format, output string) error {
	if output != "" {
		return report.WriteFile(output, format, result)
	}
	r, err := report.For(format)
	if err != nil {
		return err
	}
	return r.Render(os.Stdout, result)
}

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	var (
		cerr *config.ConfigError
		ferr *scanner.FatalTargetError
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &cerr):
		return 2
	case errors.As(err, &ferr):
		return 3
	case errors.Is(err, context.Canceled):
		return 130
	case strings.Contains(err.Error(), "unknown flag"),
		strings.Contains(err.Error(), "unknown command"),
		strings.Contains(err.Error(), "invalid argument"):
		return 2
	default:
		return 1
	}
}
