package report

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const maxPoCLength = 4 * 1024

// HTML renders a self-contained HTML page. Every value from the target is
// escaped by html/template.
type HTML struct {
	Title string
}

type severityCount struct {
	Severity string
	Class    string
	Count    int
}

type htmlData struct {
	Title         string
	Result        *types.ScanResult
	Duration      string
	Generated     string
	Counts        []severityCount
	Total         int
	Tech          []techRow
	Findings      []types.Vulnerability
	LowConfidence []types.Vulnerability
}

func severityClass(s types.Severity) string {
	return "severity-" + string(s)
}

var htmlFuncs = template.FuncMap{
	"severityClass": severityClass,
	"truncate":      func(s string) string { return truncate(s, maxPoCLength) },
	"percent":       func(c int) string { return fmt.Sprintf("%d%%", c) },
	"score":         func(f float64) string { return fmt.Sprintf("%.2f", f) },
}

var htmlTmpl = template.Must(template.New("report").Funcs(htmlFuncs).Parse(htmlTemplate))

func (h HTML) Render(w io.Writer, r *types.ScanResult) error {
	title := h.Title
	if title == "" {
		title = "DhaScan Report: " + r.TargetURL
	}
	summary := r.Summary()
	data := htmlData{
		Title:         title,
		Result:        r,
		Duration:      r.Duration.Round(time.Millisecond).String(),
		Generated:     r.FinishedAt.UTC().Format(time.RFC1123),
		Total:         summary.Total,
		Tech:          techRows(r.TechProfile),
		Findings:      r.Vulnerabilities,
		LowConfidence: r.LowConfidence,
	}
	for _, s := range severities {
		data.Counts = append(data.Counts, severityCount{
			Severity: string(s),
			Class:    severityClass(s),
			Count:    summary.BySeverity[s],
		})
	}

	if err := htmlTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute HTML template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; margin: 2rem; color: #1e293b; background: #f8fafc; }
h1 { margin-bottom: .25rem; }
.meta { color: #64748b; margin-bottom: 1.5rem; }
.cards { display: flex; gap: 1rem; margin-bottom: 2rem; }
.card { padding: 1rem 1.5rem; border-radius: 8px; background: #fff; box-shadow: 0 1px 3px rgba(0,0,0,.1); text-align: center; }
.card .n { font-size: 1.8rem; font-weight: 700; }
table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; background: #fff; }
th, td { border: 1px solid #e2e8f0; padding: .5rem .75rem; text-align: left; vertical-align: top; }
th { background: #1e293b; color: #fff; }
.finding { background: #fff; border-left: 6px solid #94a3b8; border-radius: 6px; padding: 1rem 1.5rem; margin-bottom: 1.5rem; box-shadow: 0 1px 3px rgba(0,0,0,.1); }
.finding h3 { margin-top: 0; }
pre { background: #0f172a; color: #e2e8f0; padding: 1rem; overflow-x: auto; white-space: pre-wrap; word-break: break-all; }
.badge { display: inline-block; padding: .1rem .6rem; border-radius: 999px; color: #fff; font-size: .8rem; text-transform: uppercase; }
.severity-critical { border-color: #7f1d1d; } .badge.severity-critical { background: #7f1d1d; }
.severity-high { border-color: #dc2626; } .badge.severity-high { background: #dc2626; }
.severity-medium { border-color: #ea580c; } .badge.severity-medium { background: #ea580c; }
.severity-low { border-color: #ca8a04; } .badge.severity-low { background: #ca8a04; }
.severity-info { border-color: #2563eb; } .badge.severity-info { background: #2563eb; }
.interrupted { background: #fef3c7; border: 1px solid #f59e0b; padding: .75rem 1rem; margin-bottom: 1.5rem; }
</style>
</head>
<body>
<h1>DhaScan Security Report</h1>
<div class="meta">
Target: <strong>{{.Result.TargetURL}}</strong><br>
Scan ID: {{.Result.ScanID}}<br>
Finished: {{.Generated}} &middot; Duration: {{.Duration}}<br>
Probes: {{.Result.ProbesRun}} run, {{.Result.ProbesFailed}} failed, {{.Result.ProbesSkipped}} skipped
</div>
{{if .Result.Interrupted}}<div class="interrupted">The scan was interrupted. Results are partial.</div>{{end}}

<h2>Summary</h2>
<div class="cards">
<div class="card"><div class="n">{{.Total}}</div>total</div>
{{range .Counts}}<div class="card"><div class="n">{{.Count}}</div><span class="badge {{.Class}}">{{.Severity}}</span></div>
{{end}}</div>

{{if .Tech}}<h2>Technology stack</h2>
<table>
<tr><th>Component</th><th>Detected</th></tr>
{{range .Tech}}<tr><td>{{.Field}}</td><td>{{.Values}}</td></tr>
{{end}}</table>
{{end}}

<h2>Vulnerabilities</h2>
{{if not .Findings}}<p>No confirmed vulnerabilities.</p>{{end}}
{{range .Findings}}<div class="finding {{severityClass .Severity}}">
<h3>{{.Name}} <span class="badge {{severityClass .Severity}}">{{.Severity}}</span></h3>
<table>
<tr><th>Category</th><td>{{.Category}}</td></tr>
<tr><th>URL</th><td>{{.Method}} {{.AffectedURL}}</td></tr>
{{if .Parameter}}<tr><th>Parameter</th><td>{{.Parameter}}</td></tr>{{end}}
{{if .Payload}}<tr><th>Payload</th><td><code>{{.Payload}}</code></td></tr>{{end}}
<tr><th>Confidence</th><td>{{percent .Confidence}}</td></tr>
<tr><th>Risk score</th><td>{{score .RiskScore}}</td></tr>
{{if .CWE}}<tr><th>CWE</th><td>{{.CWE}}</td></tr>{{end}}
{{if .OWASP}}<tr><th>OWASP</th><td>{{.OWASP}}</td></tr>{{end}}
<tr><th>ID</th><td>{{.ID}}</td></tr>
</table>
<p>{{.Description}}</p>
{{if .ProofOfConcept}}<h4>Proof of concept</h4>
<pre>{{truncate .ProofOfConcept}}</pre>{{end}}
{{if .Remediation}}<h4>Remediation</h4>
<p>{{.Remediation}}</p>{{end}}
</div>
{{end}}

{{if .LowConfidence}}<h2>Unconfirmed candidates</h2>
<table>
<tr><th>Name</th><th>Severity</th><th>URL</th><th>Confidence</th></tr>
{{range .LowConfidence}}<tr><td>{{.Name}}</td><td>{{.Severity}}</td><td>{{.AffectedURL}}</td><td>{{percent .Confidence}}</td></tr>
{{end}}</table>
{{end}}

{{if .Result.ProbeErrors}}<h2>Probe errors</h2>
<ul>
{{range .Result.ProbeErrors}}<li>{{.}}</li>
{{end}}</ul>
{{end}}
</body>
</html>
`
