package probes

import (
	"context"
	"fmt"
	"net/http"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/matcher"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/signatures"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

// tally tracks request failures so a probe whose every request failed
// reports an error instead of a clean empty result.
type tally struct {
	sent     int
	failed   int
	timeouts int
	lastErr  error
}

// record notes the outcome of one request. It returns the context error
// once the scan is cancelled.
func (t *tally) record(ctx context.Context, err error) error {
	t.sent++
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	t.failed++
	if httpclient.IsTimeout(err) {
		t.timeouts++
	}
	t.lastErr = err
	return nil
}

func (t *tally) err() error {
	switch {
	case t.sent == 0 || t.failed < t.sent:
		return nil
	case t.timeouts == t.sent:
		return fmt.Errorf("all %d requests timed out: %w", t.sent, t.lastErr)
	default:
		return fmt.Errorf("all %d requests failed (%d timeouts): %w", t.sent, t.timeouts, t.lastErr)
	}
}

// injection describes a parameter-injection probe.
type injection struct {
	probe      string
	category   types.Category
	payloads   []string
	noRedirect bool
	// extra points tested in addition to the discovered surface
	extra func(*Env) []Point
	// check picks the confirmation check from the matches of a candidate
	check   func([]matcher.Match) types.CheckKind
	markers func(payload string) []string
}

func checkNone([]matcher.Match) types.CheckKind         { return types.CheckNone }
func checkDifferential([]matcher.Match) types.CheckKind { return types.CheckDifferential }
func checkRepeatable([]matcher.Match) types.CheckKind   { return types.CheckRepeatable }

// checkByKind asks for a repeatability check when the only evidence is a
// delayed response and for a differential check otherwise.
func checkByKind(ms []matcher.Match) types.CheckKind {
	for _, m := range ms {
		if m.Kind != signatures.KindTiming && m.Confidence >= matcher.MinEvidence {
			return types.CheckDifferential
		}
	}
	return types.CheckRepeatable
}

func payloadMarker(payload string) []string { return []string{payload} }

// inject tries every payload against every injection point and keeps the
// first decisive match per point.
func (e *Env) inject(ctx context.Context, inj injection) ([]types.Vulnerability, error) {
	points := e.points()
	if inj.extra != nil {
		points = append(points, inj.extra(e)...)
	}
	check := inj.check
	if check == nil {
		check = checkNone
	}

	var (
		out []types.Vulnerability
		t   tally
	)
	for _, pt := range points {
		baseReq := pt.Baseline()
		baseReq.NoRedirect = inj.noRedirect
		base, err := e.Client.Do(ctx, baseReq)
		if cerr := t.record(ctx, err); cerr != nil {
			return out, cerr
		}
		if err != nil {
			continue
		}

		for _, payload := range inj.payloads {
			req := pt.Request(payload)
			req.NoRedirect = inj.noRedirect
			resp, err := e.Client.Do(ctx, req)
			if cerr := t.record(ctx, err); cerr != nil {
				return out, cerr
			}
			if err != nil {
				continue
			}

			obs := &matcher.Observation{
				Response:        resp,
				Payload:         payload,
				Baseline:        base,
				BaselineElapsed: base.Elapsed,
			}
			matches := e.Matcher.Match(inj.category, obs)
			if !matcher.Decisive(matches) {
				continue
			}

			v := e.Matcher.Candidate(inj.category, req, obs, matches)
			baseSpec := baseReq.Spec()
			v.Probe = inj.probe
			v.Parameter = pt.Param
			v.Description = fmt.Sprintf("%s Parameter %q of %s %s.", v.Description, pt.Param, pt.Method, stripQuery(pt.URL))
			v.Evidence.Baseline = &baseSpec
			v.Evidence.BaselineElapsed = base.Elapsed
			v.Evidence.Check = check(matches)
			if inj.markers != nil {
				v.Evidence.Markers = inj.markers(payload)
			}
			e.log().Debugw("Candidate found", "probe", inj.probe, "url", pt.URL, "param", pt.Param, "confidence", v.Confidence)
			out = append(out, v)
			break
		}
	}
	return out, t.err()
}

// pathCheck describes a probe that requests fixed paths under the target.
type pathCheck struct {
	probe    string
	category types.Category
	paths    []string
	method   string
	body     string
	headers  map[string]string
}

// fetchPaths requests each path without following redirects and reports
// decisive matches. Body patterns that also match the target's response to
// a path that cannot exist are ignored, which keeps catch-all pages from
// producing findings.
func (e *Env) fetchPaths(ctx context.Context, pc pathCheck) ([]types.Vulnerability, error) {
	var t tally
	notFound, err := e.Client.Do(ctx, httpclient.Request{
		Method:     http.MethodGet,
		URL:        e.targetURL(notFoundPath(pc.probe)),
		NoRedirect: true,
	})
	if cerr := t.record(ctx, err); cerr != nil {
		return nil, cerr
	}

	method := pc.method
	if method == "" {
		method = http.MethodGet
	}

	var out []types.Vulnerability
	for _, p := range pc.paths {
		req := httpclient.Request{
			Method:     method,
			URL:        e.targetURL(p),
			Headers:    pc.headers,
			Body:       pc.body,
			NoRedirect: true,
		}
		resp, err := e.Client.Do(ctx, req)
		if cerr := t.record(ctx, err); cerr != nil {
			return out, cerr
		}
		if err != nil || resp.StatusCode >= 400 {
			continue
		}
		if notFound != nil && notFound.StatusCode < 300 && resp.BodyHash() == notFound.BodyHash() {
			continue
		}

		obs := &matcher.Observation{Response: resp, Baseline: notFound}
		matches := e.Matcher.Match(pc.category, obs)
		if !matcher.Decisive(matches) {
			continue
		}
		v := e.Matcher.Candidate(pc.category, req, obs, matches)
		v.Probe = pc.probe
		v.Evidence.Check = types.CheckNone
		out = append(out, v)
	}
	return out, t.err()
}

func notFoundPath(probe string) string {
	return "/dhascan-" + probe + "-0c6f2e9a/none.txt"
}

// passive builds a candidate that needs no request of its own.
func (e *Env) passive(category types.Category, probe, name, description string, resp *httpclient.Response, confidence int) types.Vulnerability {
	info := e.Library.Info(category)
	spec := types.RequestSpec{Method: http.MethodGet, URL: e.Target}
	if description == "" {
		description = info.Description
	}
	v := types.Vulnerability{
		Name:        name,
		Severity:    info.Severity,
		Category:    category,
		Description: description,
		AffectedURL: e.Target,
		Method:      http.MethodGet,
		Remediation: info.Remediation,
		Confidence:  types.ClampConfidence(confidence),
		CWE:         info.CWE,
		OWASP:       info.OWASP,
		Probe:       probe,
		Evidence: types.Evidence{
			Request:       spec,
			Check:         types.CheckNone,
			Reproductions: 1,
		},
	}
	if resp != nil {
		v.HTTPStatus = resp.StatusCode
		v.ResponseHeaders = resp.HeaderMap()
		v.ProofOfConcept = fmt.Sprintf("GET %s\n\nHTTP %d", e.Target, resp.StatusCode)
	}
	e.Matcher.Score(&v)
	return v
}
