// Package fingerprint derives a technology profile from a single baseline
// response and reports absent security headers. It performs no network I/O.
package fingerprint

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/logger"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/signatures"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
	"github.com/PuerkitoBio/goquery"
)

// Security headers checked on every baseline response, in report order.
const (
	HeaderCSP                = "Content-Security-Policy"
	HeaderFrameOptions       = "X-Frame-Options"
	HeaderHSTS               = "Strict-Transport-Security"
	HeaderContentTypeOptions = "X-Content-Type-Options"
	HeaderReferrerPolicy     = "Referrer-Policy"
	HeaderPermissionsPolicy  = "Permissions-Policy"
)

var SecurityHeaders = []string{
	HeaderCSP,
	HeaderFrameOptions,
	HeaderHSTS,
	HeaderContentTypeOptions,
	HeaderReferrerPolicy,
	HeaderPermissionsPolicy,
}

type Fingerprinter struct {
	lib    *signatures.Library
	byName map[signatures.Marker]signatures.Fingerprint
	logger *logger.Logger
}

func New(lib *signatures.Library, log *logger.Logger) *Fingerprinter {
	if log == nil {
		log = logger.NewNop()
	}
	byName := make(map[signatures.Marker]signatures.Fingerprint, len(lib.Fingerprints))
	for _, fp := range lib.Fingerprints {
		byName[markerKey(fp.Marker)] = fp
	}
	return &Fingerprinter{lib: lib, byName: byName, logger: log.WithComponent("fingerprint")}
}

func markerKey(m signatures.Marker) signatures.Marker {
	return signatures.Marker{Field: m.Field, Name: strings.ToLower(m.Name)}
}

// document holds the parts of a response that rules look at.
type document struct {
	resp       *httpclient.Response
	cookies    []string
	generators []string
	scripts    []string
}

func newDocument(resp *httpclient.Response) *document {
	d := &document{resp: resp}
	for _, c := range resp.Cookies() {
		d.cookies = append(d.cookies, c.Name)
	}
	if resp.Body == "" {
		return d
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if err != nil {
		return d
	}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		if name, _ := s.Attr("name"); strings.EqualFold(name, "generator") {
			if content, ok := s.Attr("content"); ok {
				d.generators = append(d.generators, content)
			}
		}
	})
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			d.scripts = append(d.scripts, src)
		}
	})
	return d
}

func (d *document) matches(r signatures.FingerprintRule) bool {
	switch r.Source {
	case signatures.SourceHeader:
		for _, v := range d.resp.Header.Values(r.Header) {
			if r.Regex.MatchString(v) {
				return true
			}
		}
	case signatures.SourceBody:
		return r.Regex.MatchString(d.resp.Body)
	case signatures.SourceCookie:
		return anyMatch(r, d.cookies)
	case signatures.SourceMeta:
		return anyMatch(r, d.generators)
	case signatures.SourceScript:
		return anyMatch(r, d.scripts)
	}
	return false
}

func anyMatch(r signatures.FingerprintRule, values []string) bool {
	for _, v := range values {
		if r.Regex.MatchString(v) {
			return true
		}
	}
	return false
}

// Fingerprint builds the TechProfile of resp. Each fingerprint contributes
// at most one marker no matter how many of its rules match; implied markers
// are added transitively after the direct ones.
func (f *Fingerprinter) Fingerprint(resp *httpclient.Response) *types.TechProfile {
	profile := types.NewTechProfile()
	if resp == nil {
		return profile
	}

	doc := newDocument(resp)
	var queue []signatures.Marker

	for _, fp := range f.lib.Fingerprints {
		for _, rule := range fp.Rules {
			if doc.matches(rule) {
				if profile.Add(fp.Field, fp.Name) {
					queue = append(queue, fp.Implies...)
					f.logger.Debugw("Technology detected", "field", string(fp.Field), "name", fp.Name, "source", string(rule.Source))
				}
				break
			}
		}
	}

	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		if !profile.Add(m.Field, m.Name) {
			continue
		}
		if fp, ok := f.byName[markerKey(m)]; ok {
			queue = append(queue, fp.Implies...)
		}
	}

	for _, h := range SecurityHeaders {
		profile.SecurityHeaders[h] = resp.HasHeader(h)
	}
	return profile
}

// headerRequired reports whether h is expected on target. HSTS only has an
// effect over TLS.
func headerRequired(h string, target *url.URL) bool {
	if h == HeaderHSTS {
		return target != nil && target.Scheme == "https"
	}
	return true
}

// MissingHeaderCandidates emits one low-severity candidate per required
// security header that profile records as absent.
func (f *Fingerprinter) MissingHeaderCandidates(target string, resp *httpclient.Response, profile *types.TechProfile) []types.Vulnerability {
	if resp == nil || profile == nil {
		return nil
	}
	u, _ := url.Parse(target)
	info := f.lib.Info(types.CategoryMissingHeader)

	var out []types.Vulnerability
	for _, h := range SecurityHeaders {
		if profile.SecurityHeaders[h] || !headerRequired(h, u) {
			continue
		}
		v := types.Vulnerability{
			Name:            "Missing " + h,
			Severity:        types.SeverityLow,
			Category:        types.CategoryMissingHeader,
			Description:     fmt.Sprintf("The response does not set the %s header.", h),
			AffectedURL:     target,
			Method:          "GET",
			ProofOfConcept:  fmt.Sprintf("GET %s\n\nHTTP %d without %s", target, resp.StatusCode, h),
			Remediation:     headerRemediation[h],
			Confidence:      info.Confidence,
			CWE:             info.CWE,
			OWASP:           info.OWASP,
			HTTPStatus:      resp.StatusCode,
			ResponseHeaders: resp.HeaderMap(),
			Probe:           "security-headers",
			Evidence: types.Evidence{
				Request: types.RequestSpec{Method: "GET", URL: target},
				Check:   types.CheckNone,
			},
		}
		if v.Remediation == "" {
			v.Remediation = info.Remediation
		}
		out = append(out, v)
	}
	return out
}

var headerRemediation = map[string]string{
	HeaderCSP:                "Define a Content-Security-Policy that restricts script sources, for example default-src 'self'.",
	HeaderFrameOptions:       "Send X-Frame-Options: DENY or SAMEORIGIN.",
	HeaderHSTS:               "Send Strict-Transport-Security: max-age=31536000; includeSubDomains on HTTPS responses.",
	HeaderContentTypeOptions: "Send X-Content-Type-Options: nosniff.",
	HeaderReferrerPolicy:     "Send Referrer-Policy: strict-origin-when-cross-origin or stricter.",
	HeaderPermissionsPolicy:  "Send a Permissions-Policy that disables unused browser features.",
}
