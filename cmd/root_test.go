package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/report"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/scanner"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"config", &config.ConfigError{Field: "scan.threads", Reason: "bad"}, 2},
		{"wrapped config", fmt.Errorf("init: %w", &config.ConfigError{Field: "x"}), 2},
		{"unreachable", &scanner.FatalTargetError{URL: "http://x", Err: errors.New("refused")}, 3},
		{"interrupted", context.Canceled, 130},
		{"flag", errors.New("unknown flag: --nope"), 2},
		{"other", errors.New("disk full"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		output   string
		explicit bool
		want     report.Format
		wantErr  bool
	}{
		{"default json", "json", "", false, report.FormatJSON, false},
		{"extension wins over default", "json", "out.html", false, report.FormatHTML, false},
		{"explicit flag wins", "json", "out.html", true, report.FormatJSON, false},
		{"unknown extension", "html", "out.txt", false, report.FormatHTML, false},
		{"pdf needs a file", "pdf", "", true, "", true},
		{"unknown format", "xml", "", true, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveFormat(tt.flag, tt.output, tt.explicit)
			if tt.wantErr {
				var cerr *config.ConfigError
				assert.ErrorAs(t, err, &cerr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanCommand_WritesReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><h1>welcome</h1></body></html>")
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "report.json")
	rootCmd.SetArgs([]string{
		"scan", "-u", srv.URL,
		"-o", out,
		"--threads", "2",
		"--rate-limit", "0",
		"--categories", "clickjacking,missing-security-header",
		"--log-level", "error",
	})
	require.NoError(t, rootCmd.Execute())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)

	var doc struct {
		TargetURL       string `json:"target_url"`
		Vulnerabilities []struct {
			Category string `json:"category"`
			Name     string `json:"name"`
		} `json:"vulnerabilities"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, srv.URL, doc.TargetURL)

	categories := map[string]bool{}
	for _, v := range doc.Vulnerabilities {
		categories[v.Category] = true
	}
	assert.True(t, categories["clickjacking"])
	assert.True(t, categories["missing-security-header"])
	assert.Len(t, categories, 2)
}
