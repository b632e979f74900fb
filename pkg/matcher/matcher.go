// Package matcher evaluates signature patterns against observed responses
// and scores the result. Everything here is pure: the same observation always
// yields the same matches, confidence and risk score.
package matcher

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/signatures"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const (
	// Bonus is added to the strongest match for every further match.
	Bonus = 5

	// MinEvidence is the base confidence a pattern needs to stand on its
	// own. Weaker patterns only corroborate.
	MinEvidence = 50

	excerptLen = 240
)

// Observation is one probe response together with what produced it.
type Observation struct {
	Response *httpclient.Response
	Payload  string
	// Baseline is the unmodified response of the same endpoint. Body
	// patterns that already match it are not counted.
	Baseline *httpclient.Response
	// BaselineElapsed is subtracted before timing patterns are checked.
	BaselineElapsed time.Duration
}

// Match is one pattern that held for an observation.
type Match struct {
	PatternID  string
	Kind       signatures.PatternKind
	Confidence int
	CWE        string
	OWASP      string
	Evidence   string
}

type Matcher struct {
	lib *signatures.Library
}

func New(lib *signatures.Library) *Matcher {
	return &Matcher{lib: lib}
}

// Library exposes the signature set the matcher evaluates.
func (m *Matcher) Library() *signatures.Library { return m.lib }

// Match evaluates every pattern of category against obs independently and
// returns those that hold, in library order.
func (m *Matcher) Match(category types.Category, obs *Observation) []Match {
	if obs == nil || obs.Response == nil {
		return nil
	}
	var out []Match
	for _, p := range m.lib.Patterns[category] {
		if evidence, ok := evaluate(p, obs); ok {
			out = append(out, Match{
				PatternID:  p.ID,
				Kind:       p.Kind,
				Confidence: p.Confidence,
				CWE:        p.CWE,
				OWASP:      p.OWASP,
				Evidence:   evidence,
			})
		}
	}
	return out
}

func evaluate(p signatures.Pattern, obs *Observation) (string, bool) {
	resp := obs.Response
	switch p.Kind {
	case signatures.KindBody:
		loc := p.Regex.FindStringIndex(resp.Body)
		if loc == nil {
			return "", false
		}
		if obs.Baseline != nil && p.Regex.MatchString(obs.Baseline.Body) {
			return "", false
		}
		return resp.Body[loc[0]:loc[1]], true
	case signatures.KindHeader:
		for _, v := range resp.Header.Values(p.Header) {
			if p.Regex.MatchString(v) {
				return p.Header + ": " + v, true
			}
		}
	case signatures.KindStatus:
		for _, s := range p.Statuses {
			if resp.StatusCode == s {
				return fmt.Sprintf("HTTP %d", s), true
			}
		}
	case signatures.KindTiming:
		delay := resp.Elapsed - obs.BaselineElapsed
		if p.MinDelay > 0 && delay >= p.MinDelay {
			return fmt.Sprintf("response delayed %s over baseline", delay.Round(time.Millisecond)), true
		}
	case signatures.KindReflection:
		if obs.Payload != "" && strings.Contains(resp.Body, obs.Payload) {
			return obs.Payload, true
		}
	}
	return "", false
}

// Decisive reports whether at least one match can stand on its own.
func Decisive(matches []Match) bool {
	for _, mt := range matches {
		if mt.Confidence >= MinEvidence {
			return true
		}
	}
	return false
}

// Combine is min(100, max(c) + Bonus*(n-1)), or 0 for no matches.
func Combine(matches []Match) int {
	if len(matches) == 0 {
		return 0
	}
	best := 0
	for _, mt := range matches {
		if mt.Confidence > best {
			best = mt.Confidence
		}
	}
	return types.ClampConfidence(best + Bonus*(len(matches)-1))
}

// RiskScore scales confidence by severity weight and category weight. The
// result stays within 0..100 and never decreases when either confidence or
// severity increases.
func RiskScore(confidence int, severity types.Severity, categoryWeight float64) float64 {
	if categoryWeight <= 0 {
		return 0
	}
	if categoryWeight > 1 {
		categoryWeight = 1
	}
	conf := float64(types.ClampConfidence(confidence))
	score := conf * severity.Weight() / types.SeverityCritical.Weight() * categoryWeight
	return math.Round(score*100) / 100
}

// Score sets the risk score of v from its category weight.
func (m *Matcher) Score(v *types.Vulnerability) {
	v.RiskScore = RiskScore(v.Confidence, v.Severity, m.lib.Info(v.Category).Weight)
}

// Candidate builds an unconfirmed finding from req and the matches its
// response produced. The caller fills in the probe name, the check kind and
// any markers.
func (m *Matcher) Candidate(category types.Category, req httpclient.Request, obs *Observation, matches []Match) types.Vulnerability {
	info := m.lib.Info(category)
	spec := req.Spec()

	v := types.Vulnerability{
		Name:           info.Name,
		Severity:       info.Severity,
		Category:       category,
		Description:    info.Description,
		AffectedURL:    spec.URL,
		Method:         spec.Method,
		Payload:        obs.Payload,
		Remediation:    info.Remediation,
		Confidence:     Combine(matches),
		CWE:            info.CWE,
		OWASP:          info.OWASP,
		RequestHeaders: spec.Headers,
		Evidence: types.Evidence{
			Request:       spec,
			Reproductions: 1,
		},
	}
	if len(matches) > 0 {
		if matches[0].CWE != "" {
			v.CWE = matches[0].CWE
		}
		if matches[0].OWASP != "" {
			v.OWASP = matches[0].OWASP
		}
	}
	if resp := obs.Response; resp != nil {
		v.HTTPStatus = resp.StatusCode
		v.ResponseHeaders = resp.HeaderMap()
		v.Evidence.ResponseBody = resp.Body
		v.ProofOfConcept = ProofOfConcept(spec, resp, matches)
	}
	if obs.Baseline != nil {
		v.Evidence.BaselineBody = obs.Baseline.Body
	}
	m.Score(&v)
	return v
}

// ProofOfConcept renders the request line, the response status and the
// matched evidence with some surrounding body.
func ProofOfConcept(req types.RequestSpec, resp *httpclient.Response, matches []Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", req.Method, req.URL)
	names := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&b, "%s: %s\n", k, req.Headers[k])
	}
	if req.Body != "" {
		fmt.Fprintf(&b, "\n%s\n", req.Body)
	}
	fmt.Fprintf(&b, "\nHTTP %d", resp.StatusCode)
	for _, mt := range matches {
		if mt.Kind == signatures.KindHeader {
			for _, line := range resp.HeaderLines() {
				fmt.Fprintf(&b, "\n%s", line)
			}
			break
		}
	}
	for _, mt := range matches {
		fmt.Fprintf(&b, "\n[%s] %s", mt.PatternID, mt.Evidence)
	}
	for _, mt := range matches {
		if mt.Kind != signatures.KindBody && mt.Kind != signatures.KindReflection {
			continue
		}
		if ex := Excerpt(resp.Body, mt.Evidence, excerptLen); ex != "" {
			fmt.Fprintf(&b, "\n\n%s", ex)
		}
		break
	}
	return b.String()
}

// Excerpt returns up to n bytes of body centred on the first occurrence of
// needle.
func Excerpt(body, needle string, n int) string {
	i := strings.Index(body, needle)
	if i < 0 || needle == "" {
		return ""
	}
	start := i - (n-len(needle))/2
	if start < 0 {
		start = 0
	}
	end := start + n
	if end > len(body) {
		end = len(body)
	}
	if end-start < n && end == len(body) {
		start = end - n
		if start < 0 {
			start = 0
		}
	}
	// widen to rune boundaries
	for start > 0 && !utf8.RuneStart(body[start]) {
		start--
	}
	for end < len(body) && !utf8.RuneStart(body[end]) {
		end++
	}
	return strings.TrimSpace(body[start:end])
}
