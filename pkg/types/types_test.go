package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityWeightIsOrdered(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Weight(), order[i-1].Weight(), "%s should outweigh %s", order[i], order[i-1])
		assert.Equal(t, i, order[i].Rank())
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" SQL-Injection ")
	require.NoError(t, err)
	assert.Equal(t, CategorySQLInjection, c)

	_, err = ParseCategory("sql_injection")
	assert.Error(t, err)

	for _, known := range AllCategories() {
		parsed, err := ParseCategory(string(known))
		require.NoError(t, err)
		assert.Equal(t, known, parsed)
	}
}

func TestDedupKey(t *testing.T) {
	a := Vulnerability{Category: CategoryXSS, AffectedURL: "http://t/?q=1", Method: "get", Payload: "<script>X</script>"}
	b := Vulnerability{Category: CategoryXSS, AffectedURL: "http://t/?q=1", Method: "GET", Payload: "  <SCRIPT>x</script> "}
	c := Vulnerability{Category: CategoryXSS, AffectedURL: "http://t/?q=1", Method: "POST", Payload: "<script>X</script>"}

	assert.Equal(t, a.DedupKey(), b.DedupKey())
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())

	h1 := Vulnerability{Category: CategoryMissingHeader, AffectedURL: "https://t/", Method: "GET", Name: "Missing Content-Security-Policy"}
	h2 := Vulnerability{Category: CategoryMissingHeader, AffectedURL: "https://t/", Method: "GET", Name: "Missing X-Frame-Options"}
	assert.NotEqual(t, h1.DedupKey(), h2.DedupKey(), "passive checks are keyed by name")

	a.AssignID()
	b.AssignID()
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, a.ID, 36)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, ClampConfidence(-5))
	assert.Equal(t, 55, ClampConfidence(55))
	assert.Equal(t, 100, ClampConfidence(130))
}

func TestTechProfileSetSemantics(t *testing.T) {
	p := NewTechProfile()

	assert.True(t, p.Add(FieldJSLibrary, "jQuery"))
	assert.True(t, p.Add(FieldJSLibrary, "React"))
	assert.False(t, p.Add(FieldJSLibrary, "jquery"))
	assert.False(t, p.Add(TechField("nonsense"), "x"))

	assert.Equal(t, []string{"jQuery", "React"}, p.JavaScriptLibs)
	assert.True(t, p.Has(FieldJSLibrary, "JQUERY"))
	assert.False(t, p.Has(FieldLanguage, "jQuery"))
	assert.Empty(t, p.Values(FieldLanguage))
}

func TestParseTechField(t *testing.T) {
	f, err := ParseTechField("languages")
	require.NoError(t, err)
	assert.Equal(t, FieldLanguage, f)

	_, err = ParseTechField("operating_system")
	assert.Error(t, err)
}

func TestScanResultSummary(t *testing.T) {
	r := ScanResult{Vulnerabilities: []Vulnerability{
		{Severity: SeverityHigh},
		{Severity: SeverityHigh},
		{Severity: SeverityLow},
	}}

	s := r.Summary()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.BySeverity[SeverityHigh])
	assert.Equal(t, 1, s.BySeverity[SeverityLow])
}
