package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

// JSON renders the machine-readable report.
type JSON struct {
	Indent string
}

type jsonProbes struct {
	Run     int      `json:"run"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

type jsonReport struct {
	ScanID          string                `json:"scan_id"`
	TargetURL       string                `json:"target_url"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      time.Time             `json:"finished_at"`
	ScanDuration    float64               `json:"scan_duration"` // seconds
	Interrupted     bool                  `json:"interrupted,omitempty"`
	TechStack       *types.TechProfile    `json:"tech_stack"`
	Summary         types.Summary         `json:"summary"`
	Vulnerabilities []types.Vulnerability `json:"vulnerabilities"`
	LowConfidence   []types.Vulnerability `json:"low_confidence,omitempty"`
	Probes          jsonProbes            `json:"probes"`
}

func (j JSON) Render(w io.Writer, r *types.ScanResult) error {
	doc := jsonReport{
		ScanID:          r.ScanID,
		TargetURL:       r.TargetURL,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		ScanDuration:    r.Duration.Seconds(),
		Interrupted:     r.Interrupted,
		TechStack:       r.TechProfile,
		Summary:         r.Summary(),
		Vulnerabilities: r.Vulnerabilities,
		LowConfidence:   r.LowConfidence,
		Probes: jsonProbes{
			Run:     r.ProbesRun,
			Failed:  r.ProbesFailed,
			Skipped: r.ProbesSkipped,
			Errors:  r.ProbeErrors,
		},
	}
	if doc.Vulnerabilities == nil {
		doc.Vulnerabilities = []types.Vulnerability{}
	}
	if doc.TechStack == nil {
		doc.TechStack = types.NewTechProfile()
	}

	enc := json.NewEncoder(w)
	if j.Indent != "" {
		enc.SetIndent("", j.Indent)
	}
	return enc.Encode(doc)
}
