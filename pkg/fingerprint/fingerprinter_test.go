package fingerprint

import (
	"net/http"
	"testing"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/signatures"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(headers map[string][]string, body string) *httpclient.Response {
	h := http.Header{}
	for k, vs := range headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return &httpclient.Response{StatusCode: 200, Header: h, Body: body}
}

func newFingerprinter(t *testing.T) *Fingerprinter {
	t.Helper()
	return New(signatures.MustLoad(), nil)
}

func TestFingerprint_PoweredByPHP(t *testing.T) {
	f := newFingerprinter(t)
	profile := f.Fingerprint(response(map[string][]string{"X-Powered-By": {"PHP/7.4"}}, ""))

	assert.Equal(t, []string{"PHP"}, profile.Languages)
	assert.Empty(t, profile.WebServers)
	assert.Empty(t, profile.CMS)
	assert.Empty(t, profile.Frameworks)
	assert.Empty(t, profile.JavaScriptLibs)
	assert.Empty(t, profile.Databases)
	assert.Empty(t, profile.APITechnologies)
	assert.Empty(t, profile.CloudServices)
}

func TestFingerprint_AccumulatesWithSetSemantics(t *testing.T) {
	f := newFingerprinter(t)
	body := `<html><head>
<meta name="generator" content="WordPress 6.4.2">
<script src="/wp-includes/js/jquery/jquery.min.js"></script>
<script src="https://unpkg.com/react@18/umd/react.production.min.js"></script>
</head><body><div data-reactroot></div></body></html>`
	resp := response(map[string][]string{
		"Server":       {"nginx/1.25.3"},
		"X-Powered-By": {"PHP/8.1"},
		"Set-Cookie":   {"PHPSESSID=abc; path=/"},
		"CF-RAY":       {"8a1b2c3d4e5f-AMS"},
	}, body)

	profile := f.Fingerprint(resp)

	assert.Equal(t, []string{"Nginx"}, profile.WebServers)
	assert.Equal(t, []string{"WordPress"}, profile.CMS)
	assert.Equal(t, []string{"PHP"}, profile.Languages, "PHP is detected once despite three matching signals")
	assert.Equal(t, []string{"MySQL"}, profile.Databases, "implied by WordPress")
	assert.ElementsMatch(t, []string{"jQuery", "React"}, profile.JavaScriptLibs)
	assert.Equal(t, []string{"Cloudflare"}, profile.CloudServices)
}

func TestFingerprint_TransitiveImplies(t *testing.T) {
	f := newFingerprinter(t)
	resp := response(map[string][]string{
		"Link": {`<https://blog.example/wp-json/>; rel="https://api.w.org/"`},
	}, "")

	profile := f.Fingerprint(resp)
	assert.Contains(t, profile.APITechnologies, "WordPress REST API")
	assert.Contains(t, profile.CMS, "WordPress")
	assert.Contains(t, profile.Languages, "PHP")
	assert.Contains(t, profile.Databases, "MySQL")
}

func TestFingerprint_SecurityHeaders(t *testing.T) {
	f := newFingerprinter(t)
	profile := f.Fingerprint(response(map[string][]string{
		"content-security-policy": {"default-src 'self'"},
		"X-Frame-Options":         {"DENY"},
	}, ""))

	assert.True(t, profile.SecurityHeaders[HeaderCSP])
	assert.True(t, profile.SecurityHeaders[HeaderFrameOptions])
	assert.False(t, profile.SecurityHeaders[HeaderHSTS])
	assert.Len(t, profile.SecurityHeaders, len(SecurityHeaders))
}

func TestFingerprint_IsPure(t *testing.T) {
	f := newFingerprinter(t)
	resp := response(map[string][]string{"Server": {"Apache/2.4.57"}, "X-Powered-By": {"Express"}}, `<div ng-version="17.0.0"></div>`)

	first := f.Fingerprint(resp)
	second := f.Fingerprint(resp)
	assert.Equal(t, first, second)
}

func TestFingerprint_NilResponse(t *testing.T) {
	f := newFingerprinter(t)
	profile := f.Fingerprint(nil)
	require.NotNil(t, profile)
	assert.Empty(t, profile.Languages)
}

func TestMissingHeaderCandidates_HSTSOnHTTPS(t *testing.T) {
	f := newFingerprinter(t)
	resp := response(map[string][]string{
		"Content-Security-Policy": {"default-src 'self'"},
		"X-Frame-Options":         {"SAMEORIGIN"},
		"X-Content-Type-Options":  {"nosniff"},
		"Referrer-Policy":         {"no-referrer"},
		"Permissions-Policy":      {"camera=()"},
	}, "")
	profile := f.Fingerprint(resp)

	candidates := f.MissingHeaderCandidates("https://secure.example/", resp, profile)
	require.Len(t, candidates, 1)

	v := candidates[0]
	assert.Equal(t, types.CategoryMissingHeader, v.Category)
	assert.Equal(t, types.SeverityLow, v.Severity)
	assert.Equal(t, "Missing Strict-Transport-Security", v.Name)
	assert.Equal(t, "https://secure.example/", v.AffectedURL)
	assert.GreaterOrEqual(t, v.Confidence, 50)
	assert.NotEmpty(t, v.Remediation)
}

func TestMissingHeaderCandidates_NoHSTSOnPlainHTTP(t *testing.T) {
	f := newFingerprinter(t)
	resp := response(nil, "")
	profile := f.Fingerprint(resp)

	candidates := f.MissingHeaderCandidates("http://plain.example/", resp, profile)
	assert.Len(t, candidates, len(SecurityHeaders)-1)
	for _, v := range candidates {
		assert.NotEqual(t, "Missing Strict-Transport-Security", v.Name)
	}

	keys := make(map[string]bool)
	for _, v := range candidates {
		keys[v.DedupKey()] = true
	}
	assert.Len(t, keys, len(candidates), "each header is its own finding")
}
