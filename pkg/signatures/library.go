// Package signatures holds the embedded detection library: category
// metadata, detection patterns, payload sets, technology fingerprints and
// behavior profiles. Everything is parsed and compiled once at load time and
// is immutable afterwards.
package signatures

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var embedded embed.FS

const (
	categoriesFile   = "data/categories.yaml"
	patternsFile     = "data/patterns.yaml"
	payloadsFile     = "data/payloads.yaml"
	fingerprintsFile = "data/fingerprints.yaml"
	profilesFile     = "data/profiles.yaml"
)

// SleepPlaceholder is substituted with a delay profile's sleep seconds.
const SleepPlaceholder = "{sleep}"

// SignatureLoadError reports malformed embedded data. It is only ever
// returned at process start.
type SignatureLoadError struct {
	Source string
	Reason string
}

func (e *SignatureLoadError) Error() string {
	return fmt.Sprintf("signature library %s: %s", e.Source, e.Reason)
}

func loadErr(source, format string, args ...interface{}) error {
	return &SignatureLoadError{Source: source, Reason: fmt.Sprintf(format, args...)}
}

type PatternKind string

const (
	KindBody       PatternKind = "body"
	KindHeader     PatternKind = "header"
	KindStatus     PatternKind = "status"
	KindTiming     PatternKind = "timing"
	KindReflection PatternKind = "reflection"
)

// Pattern is one compiled detection rule.
type Pattern struct {
	ID         string
	Category   types.Category
	Kind       PatternKind
	Regex      *regexp.Regexp // body and header kinds
	Header     string         // header kind
	Statuses   []int          // status kind
	MinDelay   time.Duration  // timing kind
	Confidence int
	CWE        string
	OWASP      string
}

// CategoryInfo is the descriptive metadata of a category.
type CategoryInfo struct {
	Category    types.Category
	Name        string
	Severity    types.Severity
	Weight      float64
	Confidence  int
	CWE         string
	OWASP       string
	Description string
	Remediation string
}

type FingerprintSource string

const (
	SourceHeader FingerprintSource = "header"
	SourceBody   FingerprintSource = "body"
	SourceCookie FingerprintSource = "cookie"
	SourceMeta   FingerprintSource = "meta"
	SourceScript FingerprintSource = "script"
)

type FingerprintRule struct {
	Source FingerprintSource
	Header string
	Regex  *regexp.Regexp
}

// Marker is a value placed into one TechProfile field.
type Marker struct {
	Field types.TechField
	Name  string
}

type Fingerprint struct {
	Marker
	Rules   []FingerprintRule
	Implies []Marker
}

// BehaviorProfile describes how a class of server behaviour is observed.
type BehaviorProfile struct {
	Name         string
	Description  string
	SleepSeconds int
	MinDelay     time.Duration
	Statuses     []int
}

// Library is the fully resolved signature set.
type Library struct {
	Categories   map[types.Category]CategoryInfo
	Patterns     map[types.Category][]Pattern
	Payloads     map[types.Category][]string
	Fingerprints []Fingerprint
	Profiles     []BehaviorProfile
}

// Info returns the metadata of c, falling back to a neutral entry.
func (l *Library) Info(c types.Category) CategoryInfo {
	if info, ok := l.Categories[c]; ok {
		return info
	}
	return CategoryInfo{Category: c, Name: string(c), Severity: types.SeverityInfo, Weight: 0.5, Confidence: 50}
}

// Profile looks up a behavior profile by name.
func (l *Library) Profile(name string) (BehaviorProfile, bool) {
	for _, p := range l.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return BehaviorProfile{}, false
}

// PayloadsFor returns the payloads of c with {sleep} resolved against the
// named delay profile. Payloads without the placeholder are returned as is.
func (l *Library) PayloadsFor(c types.Category, profile string) []string {
	src := l.Payloads[c]
	out := make([]string, 0, len(src))
	sleep := "5"
	if p, ok := l.Profile(profile); ok && p.SleepSeconds > 0 {
		sleep = fmt.Sprintf("%d", p.SleepSeconds)
	}
	for _, p := range src {
		out = append(out, strings.ReplaceAll(p, SleepPlaceholder, sleep))
	}
	return out
}

// Raw YAML documents.

type categoriesDoc struct {
	Categories []struct {
		ID          string  `yaml:"id"`
		Name        string  `yaml:"name"`
		Severity    string  `yaml:"severity"`
		Weight      float64 `yaml:"weight"`
		Confidence  int     `yaml:"confidence"`
		CWE         string  `yaml:"cwe"`
		OWASP       string  `yaml:"owasp"`
		Description string  `yaml:"description"`
		Remediation string  `yaml:"remediation"`
	} `yaml:"categories"`
}

type rawPattern struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"`
	Regex      string `yaml:"regex"`
	Header     string `yaml:"header"`
	Profile    string `yaml:"profile"`
	Confidence int    `yaml:"confidence"`
	CWE        string `yaml:"cwe"`
	OWASP      string `yaml:"owasp"`
}

type patternsDoc struct {
	Patterns map[string][]rawPattern `yaml:"patterns"`
}

type payloadsDoc struct {
	Payloads map[string][]string `yaml:"payloads"`
}

type fingerprintsDoc struct {
	Fingerprints []struct {
		Name  string `yaml:"name"`
		Field string `yaml:"field"`
		Rules []struct {
			Source string `yaml:"source"`
			Header string `yaml:"header"`
			Regex  string `yaml:"regex"`
		} `yaml:"rules"`
		Implies []struct {
			Field string `yaml:"field"`
			Name  string `yaml:"name"`
		} `yaml:"implies"`
	} `yaml:"fingerprints"`
}

type profilesDoc struct {
	Profiles []struct {
		Name         string `yaml:"name"`
		Description  string `yaml:"description"`
		SleepSeconds int    `yaml:"sleep_seconds"`
		MinDelay     string `yaml:"min_delay"`
		Statuses     []int  `yaml:"statuses"`
	} `yaml:"profiles"`
}

func decode(fsys fs.FS, name string, out interface{}) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return loadErr(name, "read: %v", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return loadErr(name, "parse: %v", err)
	}
	return nil
}

// LoadPatterns returns the compiled patterns of every category.
func LoadPatterns() (map[types.Category][]Pattern, error) {
	profiles, err := loadProfiles(embedded)
	if err != nil {
		return nil, err
	}
	return loadPatterns(embedded, profiles)
}

// LoadPayloads returns the raw payload sets, {sleep} placeholders intact.
func LoadPayloads() (map[types.Category][]string, error) {
	return loadPayloads(embedded)
}

func LoadTechFingerprints() ([]Fingerprint, error) {
	return loadFingerprints(embedded)
}

func LoadBehaviorProfiles() ([]BehaviorProfile, error) {
	return loadProfiles(embedded)
}

var loadOnce = sync.OnceValues(func() (*Library, error) {
	return LoadFS(embedded)
})

// Load returns the embedded library. It is parsed once per process.
func Load() (*Library, error) {
	return loadOnce()
}

// MustLoad is Load for process start, where malformed embedded data is fatal.
func MustLoad() *Library {
	lib, err := Load()
	if err != nil {
		panic(err)
	}
	return lib
}

// LoadFS loads a library laid out like the embedded one from fsys.
func LoadFS(fsys fs.FS) (*Library, error) {
	categories, err := loadCategories(fsys)
	if err != nil {
		return nil, err
	}
	profiles, err := loadProfiles(fsys)
	if err != nil {
		return nil, err
	}
	patterns, err := loadPatterns(fsys, profiles)
	if err != nil {
		return nil, err
	}
	for cat, list := range patterns {
		info, ok := categories[cat]
		if !ok {
			return nil, loadErr(patternsFile, "category %s has patterns but no metadata", cat)
		}
		for i := range list {
			if list[i].CWE == "" {
				list[i].CWE = info.CWE
			}
			if list[i].OWASP == "" {
				list[i].OWASP = info.OWASP
			}
		}
	}
	payloads, err := loadPayloads(fsys)
	if err != nil {
		return nil, err
	}
	fingerprints, err := loadFingerprints(fsys)
	if err != nil {
		return nil, err
	}
	return &Library{
		Categories:   categories,
		Patterns:     patterns,
		Payloads:     payloads,
		Fingerprints: fingerprints,
		Profiles:     profiles,
	}, nil
}

func loadCategories(fsys fs.FS) (map[types.Category]CategoryInfo, error) {
	var doc categoriesDoc
	if err := decode(fsys, categoriesFile, &doc); err != nil {
		return nil, err
	}
	out := make(map[types.Category]CategoryInfo, len(doc.Categories))
	for _, c := range doc.Categories {
		cat, err := types.ParseCategory(c.ID)
		if err != nil {
			return nil, loadErr(categoriesFile, "%v", err)
		}
		if _, dup := out[cat]; dup {
			return nil, loadErr(categoriesFile, "duplicate category %s", cat)
		}
		sev, err := types.ParseSeverity(c.Severity)
		if err != nil {
			return nil, loadErr(categoriesFile, "category %s: %v", cat, err)
		}
		if c.Weight <= 0 || c.Weight > 1 {
			return nil, loadErr(categoriesFile, "category %s: weight %.2f outside (0,1]", cat, c.Weight)
		}
		if c.Confidence < 1 || c.Confidence > 100 {
			return nil, loadErr(categoriesFile, "category %s: confidence %d outside 1..100", cat, c.Confidence)
		}
		out[cat] = CategoryInfo{
			Category:    cat,
			Name:        c.Name,
			Severity:    sev,
			Weight:      c.Weight,
			Confidence:  c.Confidence,
			CWE:         c.CWE,
			OWASP:       c.OWASP,
			Description: c.Description,
			Remediation: c.Remediation,
		}
	}
	return out, nil
}

func loadProfiles(fsys fs.FS) ([]BehaviorProfile, error) {
	var doc profilesDoc
	if err := decode(fsys, profilesFile, &doc); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	out := make([]BehaviorProfile, 0, len(doc.Profiles))
	for _, p := range doc.Profiles {
		if p.Name == "" {
			return nil, loadErr(profilesFile, "profile without name")
		}
		if seen[p.Name] {
			return nil, loadErr(profilesFile, "duplicate profile %s", p.Name)
		}
		seen[p.Name] = true

		bp := BehaviorProfile{
			Name:         p.Name,
			Description:  p.Description,
			SleepSeconds: p.SleepSeconds,
			Statuses:     p.Statuses,
		}
		if p.MinDelay != "" {
			d, err := time.ParseDuration(p.MinDelay)
			if err != nil || d <= 0 {
				return nil, loadErr(profilesFile, "profile %s: bad min_delay %q", p.Name, p.MinDelay)
			}
			bp.MinDelay = d
		}
		for _, s := range p.Statuses {
			if s < 100 || s > 599 {
				return nil, loadErr(profilesFile, "profile %s: status %d out of range", p.Name, s)
			}
		}
		out = append(out, bp)
	}
	return out, nil
}

func loadPatterns(fsys fs.FS, profiles []BehaviorProfile) (map[types.Category][]Pattern, error) {
	var doc patternsDoc
	if err := decode(fsys, patternsFile, &doc); err != nil {
		return nil, err
	}

	byName := make(map[string]BehaviorProfile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}

	// Sorted for deterministic error reporting.
	names := make([]string, 0, len(doc.Patterns))
	for name := range doc.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[types.Category][]Pattern, len(doc.Patterns))
	for _, name := range names {
		cat, err := types.ParseCategory(name)
		if err != nil {
			return nil, loadErr(patternsFile, "%v", err)
		}
		ids := make(map[string]bool)
		for _, raw := range doc.Patterns[name] {
			p, err := compilePattern(cat, raw, byName)
			if err != nil {
				return nil, err
			}
			if ids[p.ID] {
				return nil, loadErr(patternsFile, "%s: duplicate pattern id %s", cat, p.ID)
			}
			ids[p.ID] = true
			out[cat] = append(out[cat], p)
		}
	}
	return out, nil
}

func compilePattern(cat types.Category, raw rawPattern, profiles map[string]BehaviorProfile) (Pattern, error) {
	where := fmt.Sprintf("%s/%s", cat, raw.ID)
	if raw.ID == "" {
		return Pattern{}, loadErr(patternsFile, "%s: pattern without id", cat)
	}
	if raw.Confidence < 1 || raw.Confidence > 100 {
		return Pattern{}, loadErr(patternsFile, "%s: confidence %d outside 1..100", where, raw.Confidence)
	}

	p := Pattern{
		ID:         raw.ID,
		Category:   cat,
		Kind:       PatternKind(raw.Kind),
		Header:     raw.Header,
		Confidence: raw.Confidence,
		CWE:        raw.CWE,
		OWASP:      raw.OWASP,
	}

	switch p.Kind {
	case KindBody, KindHeader:
		if raw.Regex == "" {
			return Pattern{}, loadErr(patternsFile, "%s: %s pattern needs a regex", where, p.Kind)
		}
		re, err := regexp.Compile(raw.Regex)
		if err != nil {
			return Pattern{}, loadErr(patternsFile, "%s: %v", where, err)
		}
		p.Regex = re
		if p.Kind == KindHeader && p.Header == "" {
			return Pattern{}, loadErr(patternsFile, "%s: header pattern needs a header name", where)
		}
	case KindStatus:
		prof, ok := profiles[raw.Profile]
		if !ok || len(prof.Statuses) == 0 {
			return Pattern{}, loadErr(patternsFile, "%s: unknown status profile %q", where, raw.Profile)
		}
		p.Statuses = prof.Statuses
	case KindTiming:
		prof, ok := profiles[raw.Profile]
		if !ok || prof.MinDelay <= 0 {
			return Pattern{}, loadErr(patternsFile, "%s: unknown delay profile %q", where, raw.Profile)
		}
		p.MinDelay = prof.MinDelay
	case KindReflection:
	default:
		return Pattern{}, loadErr(patternsFile, "%s: unknown kind %q", where, raw.Kind)
	}
	return p, nil
}

func loadPayloads(fsys fs.FS) (map[types.Category][]string, error) {
	var doc payloadsDoc
	if err := decode(fsys, payloadsFile, &doc); err != nil {
		return nil, err
	}
	out := make(map[types.Category][]string, len(doc.Payloads))
	for name, list := range doc.Payloads {
		cat, err := types.ParseCategory(name)
		if err != nil {
			return nil, loadErr(payloadsFile, "%v", err)
		}
		for i, p := range list {
			if p == "" {
				return nil, loadErr(payloadsFile, "%s: empty payload at index %d", cat, i)
			}
		}
		out[cat] = append([]string(nil), list...)
	}
	return out, nil
}

func loadFingerprints(fsys fs.FS) ([]Fingerprint, error) {
	var doc fingerprintsDoc
	if err := decode(fsys, fingerprintsFile, &doc); err != nil {
		return nil, err
	}
	out := make([]Fingerprint, 0, len(doc.Fingerprints))
	for _, f := range doc.Fingerprints {
		field, err := types.ParseTechField(f.Field)
		if err != nil {
			return nil, loadErr(fingerprintsFile, "%s: %v", f.Name, err)
		}
		if f.Name == "" {
			return nil, loadErr(fingerprintsFile, "fingerprint without name")
		}
		if len(f.Rules) == 0 {
			return nil, loadErr(fingerprintsFile, "%s: no rules", f.Name)
		}
		fp := Fingerprint{Marker: Marker{Field: field, Name: f.Name}}
		for _, r := range f.Rules {
			src := FingerprintSource(r.Source)
			switch src {
			case SourceHeader:
				if r.Header == "" {
					return nil, loadErr(fingerprintsFile, "%s: header rule needs a header name", f.Name)
				}
			case SourceBody, SourceCookie, SourceMeta, SourceScript:
			default:
				return nil, loadErr(fingerprintsFile, "%s: unknown source %q", f.Name, r.Source)
			}
			if r.Regex == "" {
				return nil, loadErr(fingerprintsFile, "%s: rule without regex", f.Name)
			}
			re, err := regexp.Compile(r.Regex)
			if err != nil {
				return nil, loadErr(fingerprintsFile, "%s: %v", f.Name, err)
			}
			fp.Rules = append(fp.Rules, FingerprintRule{Source: src, Header: r.Header, Regex: re})
		}
		for _, imp := range f.Implies {
			impField, err := types.ParseTechField(imp.Field)
			if err != nil {
				return nil, loadErr(fingerprintsFile, "%s implies: %v", f.Name, err)
			}
			fp.Implies = append(fp.Implies, Marker{Field: impField, Name: imp.Name})
		}
		out = append(out, fp)
	}
	return out, nil
}
