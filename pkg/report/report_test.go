package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

func sampleResult() *types.ScanResult {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	profile := types.NewTechProfile()
	profile.Add(types.FieldWebServer, "nginx")
	profile.Add(types.FieldLanguage, "PHP")
	profile.SecurityHeaders["X-Frame-Options"] = false

	xss := types.Vulnerability{
		ID:             "7d3f0c2e-0000-5000-8000-000000000001",
		Name:           "Reflected XSS",
		Severity:       types.SeverityHigh,
		Category:       types.CategoryXSS,
		Description:    "Input is reflected without encoding.",
		AffectedURL:    "http://t.example/search",
		Method:         "GET",
		Parameter:      "q",
		Payload:        `<script>alert(1)</script>`,
		ProofOfConcept: "GET http://t.example/search?q=<script>alert(1)</script>\n\nHTTP 200",
		Remediation:    "Encode output.",
		Confidence:     90,
		CWE:            "CWE-79",
		RiskScore:      72,
	}
	return &types.ScanResult{
		ScanID:          "scan-1",
		TargetURL:       "http://t.example/",
		StartedAt:       started,
		FinishedAt:      started.Add(3500 * time.Millisecond),
		Duration:        3500 * time.Millisecond,
		TechProfile:     profile,
		Vulnerabilities: []types.Vulnerability{xss},
		LowConfidence: []types.Vulnerability{{
			Name: "Possible IDOR", Severity: types.SeverityMedium, AffectedURL: "http://t.example/item?id=2", Confidence: 40,
		}},
		ProbesRun:    20,
		ProbesFailed: 1,
		ProbeErrors:  []string{"probe ssrf (ssrf): connection reset"},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"HTML", FormatHTML, false},
		{" pdf ", FormatPDF, false},
		{"", FormatJSON, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	f, ok := FormatFromPath("out/report.HTML")
	assert.True(t, ok)
	assert.Equal(t, FormatHTML, f)

	_, ok = FormatFromPath("report.txt")
	assert.False(t, ok)
}

func TestJSON_Render(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON{}.Render(&buf, sampleResult()))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "http://t.example/", doc["target_url"])
	assert.InDelta(t, 3.5, doc["scan_duration"], 0.001)

	vulns := doc["vulnerabilities"].([]interface{})
	require.Len(t, vulns, 1)
	v := vulns[0].(map[string]interface{})
	assert.Equal(t, "xss", v["category"])
	assert.Equal(t, "CWE-79", v["cwe_id"])
	assert.NotContains(t, v, "Evidence")

	tech := doc["tech_stack"].(map[string]interface{})
	assert.Equal(t, []interface{}{"nginx"}, tech["web_server"])

	summary := doc["summary"].(map[string]interface{})
	assert.EqualValues(t, 1, summary["total"])
}

func TestJSON_EmptyResultHasEmptyList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON{}.Render(&buf, &types.ScanResult{TargetURL: "http://t.example/"}))
	assert.Contains(t, buf.String(), `"vulnerabilities":[]`)
}

func TestHTML_RenderEscapesTargetContent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML{}.Render(&buf, sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "Reflected XSS")
	assert.Contains(t, out, "severity-high")
	assert.Contains(t, out, "nginx")
	assert.Contains(t, out, "Possible IDOR")
	assert.Contains(t, out, "probe ssrf (ssrf): connection reset")
	assert.NotContains(t, out, "<script>alert(1)</script>")
	assert.Contains(t, out, "&lt;script&gt;alert(1)&lt;/script&gt;")
}

func TestPDF_Render(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PDF{}.Render(&buf, sampleResult()))

	raw := buf.Bytes()
	require.True(t, bytes.HasPrefix(raw, []byte("%PDF-")))
	assert.True(t, bytes.Contains(raw, []byte("DhaScan Security Report")))
	assert.True(t, bytes.Contains(raw, []byte("Reflected XSS")))
	assert.True(t, bytes.Contains(raw, []byte("CWE-79")))
}

func TestPDF_RenderEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PDF{Compress: true}.Render(&buf, &types.ScanResult{TargetURL: "http://t.example/"}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []Format{FormatJSON, FormatHTML, FormatPDF} {
		path := filepath.Join(dir, "report."+string(f))
		require.NoError(t, WriteFile(path, f, sampleResult()))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(100))
	}

	assert.Error(t, WriteFile(filepath.Join(dir, "missing", "r.json"), FormatJSON, sampleResult()))
}
