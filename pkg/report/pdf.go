package report

import (
	"fmt"
	"io"
	"time"

	gofpdf "github.com/go-pdf/fpdf"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const maxPDFPoCLength = 1500

// PDF renders an A4 report with the core Helvetica font.
type PDF struct {
	Compress bool
}

var pdfSeverityColors = map[types.Severity][]int{
	types.SeverityCritical: {127, 29, 29},
	types.SeverityHigh:     {220, 38, 38},
	types.SeverityMedium:   {234, 88, 12},
	types.SeverityLow:      {202, 138, 4},
	types.SeverityInfo:     {37, 99, 235},
}

func severityColor(s types.Severity) []int {
	if c, ok := pdfSeverityColors[s]; ok {
		return c
	}
	return []int{128, 128, 128}
}

type pdfDoc struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string
}

func (p PDF) Render(w io.Writer, r *types.ScanResult) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(p.Compress)
	pdf.SetTitle("DhaScan Report: "+r.TargetURL, true)
	pdf.SetCreator("DhaScan", true)
	if !r.FinishedAt.IsZero() {
		pdf.SetCreationDate(r.FinishedAt)
	}
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	d := &pdfDoc{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.AddPage()
	d.addCover(r)
	d.addSummary(r)
	d.addTech(r.TechProfile)
	d.addFindings(r.Vulnerabilities)
	d.addLowConfidence(r.LowConfidence)
	d.addProbeErrors(r.ProbeErrors)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to build PDF: %w", err)
	}
	return pdf.Output(w)
}

func (d *pdfDoc) sectionHeader(title string) {
	d.pdf.Ln(4)
	d.pdf.SetFont("Helvetica", "B", 14)
	d.pdf.SetTextColor(30, 41, 59)
	d.pdf.CellFormat(0, 9, d.tr(title), "B", 1, "L", false, 0, "")
	d.pdf.Ln(2)
}

func (d *pdfDoc) addCover(r *types.ScanResult) {
	pdf := d.pdf
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(30, 41, 59)
	pdf.CellFormat(0, 12, "DhaScan Security Report", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	lines := []string{
		"Target: " + r.TargetURL,
		"Scan ID: " + r.ScanID,
		"Finished: " + r.FinishedAt.UTC().Format(time.RFC1123),
		"Duration: " + r.Duration.Round(time.Millisecond).String(),
		fmt.Sprintf("Probes: %d run, %d failed, %d skipped", r.ProbesRun, r.ProbesFailed, r.ProbesSkipped),
	}
	for _, l := range lines {
		pdf.CellFormat(0, 6, d.tr(l), "", 1, "L", false, 0, "")
	}
	if r.Interrupted {
		pdf.SetTextColor(180, 83, 9)
		pdf.CellFormat(0, 6, "The scan was interrupted. Results are partial.", "", 1, "L", false, 0, "")
	}
}

func (d *pdfDoc) addSummary(r *types.ScanResult) {
	pdf := d.pdf
	d.sectionHeader("Summary")
	summary := r.Summary()

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(30, 41, 59)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(50, 8, "Severity", "1", 0, "L", true, 0, "")
	pdf.CellFormat(30, 8, "Findings", "1", 1, "C", true, 0, "")

	for _, s := range severities {
		c := severityColor(s)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetTextColor(c[0], c[1], c[2])
		pdf.CellFormat(50, 7, string(s), "1", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(30, 7, fmt.Sprintf("%d", summary.BySeverity[s]), "1", 1, "C", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(50, 7, "Total", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 7, fmt.Sprintf("%d", summary.Total), "1", 1, "C", false, 0, "")
}

func (d *pdfDoc) addTech(p *types.TechProfile) {
	rows := techRows(p)
	if len(rows) == 0 {
		return
	}
	pdf := d.pdf
	d.sectionHeader("Technology stack")
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(50, 6, d.tr(row.Field), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 6, d.tr(row.Values), "", "L", false)
	}
}

func (d *pdfDoc) field(label, value string) {
	if value == "" {
		return
	}
	d.pdf.SetFont("Helvetica", "B", 9)
	d.pdf.SetTextColor(60, 60, 60)
	d.pdf.CellFormat(30, 5, label, "", 0, "L", false, 0, "")
	d.pdf.SetFont("Helvetica", "", 9)
	d.pdf.MultiCell(0, 5, d.tr(value), "", "L", false)
}

func (d *pdfDoc) addFindings(vs []types.Vulnerability) {
	pdf := d.pdf
	d.sectionHeader("Vulnerabilities")
	if len(vs) == 0 {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 6, "No confirmed vulnerabilities.", "", 1, "L", false, 0, "")
		return
	}

	for i, v := range vs {
		c := severityColor(v.Severity)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.SetTextColor(c[0], c[1], c[2])
		pdf.MultiCell(0, 6, d.tr(fmt.Sprintf("%d. [%s] %s", i+1, v.Severity, v.Name)), "", "L", false)

		d.field("Category", string(v.Category))
		d.field("URL", v.Method+" "+v.AffectedURL)
		d.field("Parameter", v.Parameter)
		d.field("Payload", v.Payload)
		d.field("Confidence", fmt.Sprintf("%d%%", v.Confidence))
		d.field("Risk score", fmt.Sprintf("%.2f", v.RiskScore))
		d.field("CWE", v.CWE)
		d.field("OWASP", v.OWASP)
		d.field("Description", v.Description)
		d.field("Remediation", v.Remediation)

		if v.ProofOfConcept != "" {
			pdf.SetFont("Courier", "", 8)
			pdf.SetFillColor(241, 245, 249)
			pdf.SetTextColor(30, 41, 59)
			pdf.MultiCell(0, 4, d.tr(truncate(v.ProofOfConcept, maxPDFPoCLength)), "1", "L", true)
		}
		pdf.Ln(4)
	}
}

func (d *pdfDoc) addLowConfidence(vs []types.Vulnerability) {
	if len(vs) == 0 {
		return
	}
	pdf := d.pdf
	d.sectionHeader("Unconfirmed candidates")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(60, 60, 60)
	for _, v := range vs {
		line := fmt.Sprintf("%s (%s, %d%%) %s", v.Name, v.Severity, v.Confidence, v.AffectedURL)
		pdf.MultiCell(0, 5, d.tr(line), "", "L", false)
	}
}

func (d *pdfDoc) addProbeErrors(errs []string) {
	if len(errs) == 0 {
		return
	}
	d.sectionHeader("Probe errors")
	d.pdf.SetFont("Helvetica", "", 9)
	d.pdf.SetTextColor(60, 60, 60)
	for _, e := range errs {
		d.pdf.MultiCell(0, 5, d.tr(e), "", "L", false)
	}
}
