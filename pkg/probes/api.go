package probes

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/matcher"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const maxCORSChecks = 5

// xmlTargets are the URLs an XML document is posted to: discovered API
// endpoints and POST form actions, plus the target when it speaks XML.
func xmlTargets(env *Env) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = stripQuery(u)
		if u == "" || seen[u] || len(out) >= env.maxPoints() {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	if env.Profile.Has(types.FieldAPI, "XML API") {
		add(env.Target)
	}
	if env.Surface != nil {
		for _, ep := range env.Surface.Endpoints {
			add(ep)
		}
		for _, f := range env.Surface.Forms {
			if f.Method == http.MethodPost {
				add(f.Action)
			}
		}
	}
	return out
}

func xxeProbe() Probe {
	return Probe{
		Name:         "xxe",
		Category:     types.CategoryXXE,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			var (
				out []types.Vulnerability
				t   tally
			)
			for _, target := range xmlTargets(env) {
				for _, doc := range env.payloads(types.CategoryXXE, "") {
					req := httpclient.Request{
						Method:  http.MethodPost,
						URL:     target,
						Body:    doc,
						Headers: map[string]string{"Content-Type": "application/xml"},
					}
					resp, err := env.Client.Do(ctx, req)
					if cerr := t.record(ctx, err); cerr != nil {
						return out, cerr
					}
					if err != nil {
						continue
					}
					obs := &matcher.Observation{Response: resp, Payload: doc, Baseline: env.Baseline}
					matches := env.Matcher.Match(types.CategoryXXE, obs)
					if !matcher.Decisive(matches) {
						continue
					}
					v := env.Matcher.Candidate(types.CategoryXXE, req, obs, matches)
					v.Probe = "xxe"
					out = append(out, v)
					break
				}
			}
			return out, t.err()
		},
	}
}

// idorProbe changes numeric identifiers to their neighbours. A neighbour
// that is served with different content, while an identifier that cannot
// exist is not, suggests records are not access-checked. Without a second
// identity this cannot be proven, so findings stay near the confidence floor.
func idorProbe() Probe {
	return Probe{
		Name:         "idor",
		Category:     types.CategoryIDOR,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			var (
				out []types.Vulnerability
				t   tally
			)
			for _, pt := range env.numericPoints() {
				id, _ := strconv.ParseInt(pt.Values.Get(pt.Param), 10, 64)

				baseReq := pt.Baseline()
				base, err := env.Client.Do(ctx, baseReq)
				if cerr := t.record(ctx, err); cerr != nil {
					return out, cerr
				}
				if err != nil || base.StatusCode != http.StatusOK {
					continue
				}

				missing, err := env.Client.Do(ctx, pt.Request("999999999"))
				if cerr := t.record(ctx, err); cerr != nil {
					return out, cerr
				}
				if err == nil && missing.StatusCode == http.StatusOK && missing.BodyHash() != base.BodyHash() {
					// every id is served; nothing distinguishes real records
					continue
				}

				for _, neighbour := range []int64{id + 1, id - 1} {
					if neighbour < 0 {
						continue
					}
					payload := strconv.FormatInt(neighbour, 10)
					req := pt.Request(payload)
					resp, err := env.Client.Do(ctx, req)
					if cerr := t.record(ctx, err); cerr != nil {
						return out, cerr
					}
					if err != nil || resp.StatusCode != http.StatusOK || resp.BodyHash() == base.BodyHash() {
						continue
					}
					obs := &matcher.Observation{Response: resp, Payload: payload}
					matches := env.Matcher.Match(types.CategoryIDOR, obs)
					if len(matches) == 0 {
						continue
					}
					v := env.Matcher.Candidate(types.CategoryIDOR, req, obs, matches)
					baseSpec := baseReq.Spec()
					v.Probe = "idor"
					v.Parameter = pt.Param
					v.Description = fmt.Sprintf("%s Parameter %q returned a different record for %s than for %d.", v.Description, pt.Param, payload, id)
					v.Evidence.Baseline = &baseSpec
					v.Evidence.BaselineBody = base.Body
					out = append(out, v)
					break
				}
			}
			return out, t.err()
		},
	}
}

func corsProbe() Probe {
	return Probe{
		Name:     "cors",
		Category: types.CategoryCORS,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			urls := []string{env.Target}
			if env.Surface != nil {
				for _, ep := range env.Surface.Endpoints {
					if len(urls) >= maxCORSChecks {
						break
					}
					urls = append(urls, ep)
				}
			}

			var (
				out []types.Vulnerability
				t   tally
			)
			for _, u := range urls {
				for _, origin := range env.payloads(types.CategoryCORS, "") {
					req := httpclient.Request{
						Method:     http.MethodGet,
						URL:        u,
						Headers:    map[string]string{"Origin": origin},
						NoRedirect: true,
					}
					resp, err := env.Client.Do(ctx, req)
					if cerr := t.record(ctx, err); cerr != nil {
						return out, cerr
					}
					if err != nil {
						continue
					}
					obs := &matcher.Observation{Response: resp, Payload: origin}
					matches := env.Matcher.Match(types.CategoryCORS, obs)
					if !matcher.Decisive(matches) {
						continue
					}
					v := env.Matcher.Candidate(types.CategoryCORS, req, obs, matches)
					v.Probe = "cors"
					v.Description = fmt.Sprintf("%s The server allowed Origin %s.", v.Description, origin)
					out = append(out, v)
					break
				}
			}
			return out, t.err()
		},
	}
}
