package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/murmur3"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Weight returns the numeric weight used by risk scoring.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	default:
		return 1
	}
}

// Rank orders severities from info (0) to critical (4).
func (s Severity) Rank() int {
	return int(s.Weight()) - 1
}

func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

type Category string

const (
	CategorySQLInjection         Category = "sql-injection"
	CategoryBlindSQLInjection    Category = "blind-sql-injection"
	CategoryXSS                  Category = "xss"
	CategorySSRF                 Category = "ssrf"
	CategoryOpenRedirect         Category = "open-redirect"
	CategoryPathTraversal        Category = "path-traversal"
	CategoryCommandInjection     Category = "command-injection"
	CategorySSTI                 Category = "ssti"
	CategoryXXE                  Category = "xxe"
	CategoryCRLFInjection        Category = "crlf-injection"
	CategoryIDOR                 Category = "idor"
	CategoryCORS                 Category = "cors-misconfiguration"
	CategoryMissingHeader        Category = "missing-security-header"
	CategoryInsecureCookie       Category = "insecure-cookie"
	CategoryInfoDisclosure       Category = "information-disclosure"
	CategorySensitiveFile        Category = "sensitive-file-exposure"
	CategoryDirectoryListing     Category = "directory-listing"
	CategoryHTTPMethod           Category = "http-method"
	CategoryGraphQLIntrospection Category = "graphql-introspection"
	CategoryCMSExposure          Category = "cms-exposure"
	CategoryFrameworkExposure    Category = "framework-exposure"
	CategoryClickjacking         Category = "clickjacking"
)

var allCategories = []Category{
	CategorySQLInjection,
	CategoryBlindSQLInjection,
	CategoryXSS,
	CategorySSRF,
	CategoryOpenRedirect,
	CategoryPathTraversal,
	CategoryCommandInjection,
	CategorySSTI,
	CategoryXXE,
	CategoryCRLFInjection,
	CategoryIDOR,
	CategoryCORS,
	CategoryMissingHeader,
	CategoryInsecureCookie,
	CategoryInfoDisclosure,
	CategorySensitiveFile,
	CategoryDirectoryListing,
	CategoryHTTPMethod,
	CategoryGraphQLIntrospection,
	CategoryCMSExposure,
	CategoryFrameworkExposure,
	CategoryClickjacking,
}

// AllCategories returns every known category in declaration order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allCategories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// CheckKind tells the confirmation pass which false-positive check a
// candidate needs beyond deduplication and the confidence floor.
type CheckKind int

const (
	CheckNone CheckKind = iota
	CheckDifferential
	CheckRepeatable
)

func (k CheckKind) String() string {
	switch k {
	case CheckDifferential:
		return "differential"
	case CheckRepeatable:
		return "repeatable"
	default:
		return "none"
	}
}

// RequestSpec is enough to reissue a probe request during confirmation.
type RequestSpec struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Evidence is the raw material the confirmation pass works from. It is not
// part of the report.
type Evidence struct {
	Request         RequestSpec
	Baseline        *RequestSpec // unmodified request to the same endpoint
	BaselineBody    string
	BaselineElapsed time.Duration
	ResponseBody    string
	Markers         []string
	Check           CheckKind
	Reproductions   int
}

type Vulnerability struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Severity        Severity          `json:"severity"`
	Category        Category          `json:"category"`
	Description     string            `json:"description"`
	AffectedURL     string            `json:"affected_url"`
	Method          string            `json:"method"`
	Parameter       string            `json:"parameter,omitempty"`
	Payload         string            `json:"payload,omitempty"`
	ProofOfConcept  string            `json:"proof_of_concept,omitempty"`
	Remediation     string            `json:"remediation,omitempty"`
	Confidence      int               `json:"confidence"`
	CWE             string            `json:"cwe_id,omitempty"`
	OWASP           string            `json:"owasp_category,omitempty"`
	RiskScore       float64           `json:"risk_score"`
	HTTPStatus      int               `json:"http_status,omitempty"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	Probe           string            `json:"probe,omitempty"`

	Evidence Evidence `json:"-"`
}

// ClampConfidence keeps c within 0..100.
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// NormalizePayload reduces a payload to the signature used for
// deduplication: case-folded with whitespace collapsed.
func NormalizePayload(p string) string {
	return strings.Join(strings.Fields(strings.ToLower(p)), " ")
}

// PayloadHash is the murmur3 hash of the normalised payload.
func PayloadHash(p string) string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(NormalizePayload(p))))
}

// Signature is what identifies the tested input of a finding: the payload,
// or the check name for passive checks that send none.
func (v *Vulnerability) Signature() string {
	if v.Payload != "" {
		return v.Payload
	}
	return v.Name
}

// DedupKey is category|url|METHOD|signature-hash.
func (v *Vulnerability) DedupKey() string {
	return strings.Join([]string{
		string(v.Category),
		v.AffectedURL,
		strings.ToUpper(v.Method),
		PayloadHash(v.Signature()),
	}, "|")
}

var vulnNamespace = uuid.MustParse("6f1d1c52-5a0c-4e8b-9c1e-8a4f0d3b2e71")

// AssignID sets a deterministic identifier derived from the dedup key.
func (v *Vulnerability) AssignID() {
	v.ID = uuid.NewSHA1(vulnNamespace, []byte(v.DedupKey())).String()
}

// TechField names one ordered set of a TechProfile.
type TechField string

const (
	FieldWebServer TechField = "web_server"
	FieldCMS       TechField = "cms"
	FieldFramework TechField = "frameworks"
	FieldLanguage  TechField = "languages"
	FieldJSLibrary TechField = "javascript_libs"
	FieldDatabase  TechField = "databases"
	FieldAPI       TechField = "api_technologies"
	FieldCloud     TechField = "cloud_services"
)

func ParseTechField(s string) (TechField, error) {
	switch f := TechField(strings.ToLower(strings.TrimSpace(s))); f {
	case FieldWebServer, FieldCMS, FieldFramework, FieldLanguage, FieldJSLibrary, FieldDatabase, FieldAPI, FieldCloud:
		return f, nil
	}
	return "", fmt.Errorf("unknown technology field %q", s)
}

// TechProfile is the fingerprinted stack of a target. Every list is an
// ordered set: values keep first-seen order and never repeat.
type TechProfile struct {
	WebServers      []string        `json:"web_server"`
	CMS             []string        `json:"cms"`
	Frameworks      []string        `json:"frameworks"`
	Languages       []string        `json:"languages"`
	JavaScriptLibs  []string        `json:"javascript_libs"`
	Databases       []string        `json:"databases"`
	APITechnologies []string        `json:"api_technologies"`
	CloudServices   []string        `json:"cloud_services"`
	SecurityHeaders map[string]bool `json:"security_headers"`
}

func NewTechProfile() *TechProfile {
	return &TechProfile{SecurityHeaders: make(map[string]bool)}
}

func (p *TechProfile) slot(f TechField) *[]string {
	switch f {
	case FieldWebServer:
		return &p.WebServers
	case FieldCMS:
		return &p.CMS
	case FieldFramework:
		return &p.Frameworks
	case FieldLanguage:
		return &p.Languages
	case FieldJSLibrary:
		return &p.JavaScriptLibs
	case FieldDatabase:
		return &p.Databases
	case FieldAPI:
		return &p.APITechnologies
	case FieldCloud:
		return &p.CloudServices
	}
	return nil
}

// Add inserts value into the field's set and reports whether it was new.
func (p *TechProfile) Add(f TechField, value string) bool {
	s := p.slot(f)
	if s == nil || value == "" {
		return false
	}
	for _, existing := range *s {
		if strings.EqualFold(existing, value) {
			return false
		}
	}
	*s = append(*s, value)
	return true
}

// Has reports whether the field contains value, ignoring case.
func (p *TechProfile) Has(f TechField, value string) bool {
	if p == nil {
		return false
	}
	s := p.slot(f)
	if s == nil {
		return false
	}
	for _, existing := range *s {
		if strings.EqualFold(existing, value) {
			return true
		}
	}
	return false
}

func (p *TechProfile) Values(f TechField) []string {
	if p == nil {
		return nil
	}
	if s := p.slot(f); s != nil {
		return *s
	}
	return nil
}

type ScanResult struct {
	ScanID          string          `json:"scan_id"`
	TargetURL       string          `json:"target_url"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	Duration        time.Duration   `json:"scan_duration"`
	TechProfile     *TechProfile    `json:"tech_stack"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	LowConfidence   []Vulnerability `json:"low_confidence,omitempty"`
	ProbesRun       int             `json:"probes_run"`
	ProbesFailed    int             `json:"probes_failed"`
	ProbesSkipped   int             `json:"probes_skipped"`
	ProbeErrors     []string        `json:"probe_errors,omitempty"`
	Interrupted     bool            `json:"interrupted,omitempty"`
}

// Summary counts confirmed vulnerabilities by severity.
type Summary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
}

func (r *ScanResult) Summary() Summary {
	s := Summary{BySeverity: make(map[Severity]int)}
	for _, v := range r.Vulnerabilities {
		s.Total++
		s.BySeverity[v.Severity]++
	}
	return s
}
