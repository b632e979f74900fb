// cmd/display_helpers.go - console summary of a scan
package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const topFindings = 10

var severityOrder = []types.Severity{
	types.SeverityCritical,
	types.SeverityHigh,
	types.SeverityMedium,
	types.SeverityLow,
	types.SeverityInfo,
}

func colorSeverity(severity types.Severity) string {
	switch severity {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint("CRITICAL")
	case types.SeverityHigh:
		return color.New(color.FgRed).Sprint("HIGH")
	case types.SeverityMedium:
		return color.New(color.FgYellow).Sprint("MEDIUM")
	case types.SeverityLow:
		return color.New(color.FgCyan).Sprint("LOW")
	case types.SeverityInfo:
		return color.New(color.FgWhite).Sprint("INFO")
	default:
		return string(severity)
	}
}

func printSummary(r *types.ScanResult) {
	out := color.Output
	summary := r.Summary()

	fmt.Fprintln(out)
	color.Green("[+] Scan completed in %.2f seconds\n", r.Duration.Seconds())
	color.Green("[+] Found %d confirmed vulnerabilities\n", summary.Total)
	fmt.Fprintf(out, "    Probes: %d run, %d failed, %d skipped\n", r.ProbesRun, r.ProbesFailed, r.ProbesSkipped)

	if stack := techLine(r.TechProfile); stack != "" {
		fmt.Fprintf(out, "    Stack:  %s\n", stack)
	}

	var counts []string
	for _, s := range severityOrder {
		if n := summary.BySeverity[s]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s %d", colorSeverity(s), n))
		}
	}
	if len(counts) > 0 {
		fmt.Fprintf(out, "    %s\n", strings.Join(counts, "  "))
	}

	displayTopFindings(r.Vulnerabilities, topFindings)

	if len(r.LowConfidence) > 0 {
		color.Yellow("\n[?] %d unconfirmed candidates kept out of the findings\n", len(r.LowConfidence))
	}
	for _, e := range r.ProbeErrors {
		color.Red("[!] %s\n", e)
	}
}

func techLine(p *types.TechProfile) string {
	if p == nil {
		return ""
	}
	var parts []string
	for _, vs := range [][]string{p.WebServers, p.CMS, p.Frameworks, p.Languages} {
		parts = append(parts, vs...)
	}
	return strings.Join(parts, ", ")
}

func displayTopFindings(findings []types.Vulnerability, limit int) {
	sorted := make([]types.Vulnerability, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})

	out := color.Output
	for i, v := range sorted {
		if i >= limit {
			fmt.Fprintf(out, "\n  ... and %d more in the report\n", len(sorted)-limit)
			break
		}

		fmt.Fprintf(out, "\n%s - %s\n", colorSeverity(v.Severity), v.Name)
		fmt.Fprintf(out, "  %s %s", v.Method, v.AffectedURL)
		if v.Parameter != "" {
			fmt.Fprintf(out, " [%s]", v.Parameter)
		}
		fmt.Fprintf(out, " | confidence %d%% | risk %.2f\n", v.Confidence, v.RiskScore)

		if v.Payload != "" {
			payload := v.Payload
			if len(payload) > 100 {
				payload = payload[:97] + "..."
			}
			fmt.Fprintf(out, "  Payload: %s\n", payload)
		}
	}
}
