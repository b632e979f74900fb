package probes

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/matcher"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/signatures"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

func isHTML(resp *httpclient.Response) bool {
	ct := resp.HeaderValue("Content-Type")
	return ct == "" || strings.Contains(strings.ToLower(ct), "html")
}

// clickjackingProbe flags HTML pages that can be framed by any origin.
func clickjackingProbe() Probe {
	return Probe{
		Name:     "clickjacking",
		Category: types.CategoryClickjacking,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			resp := env.Baseline
			if resp == nil || !isHTML(resp) {
				return nil, nil
			}
			if resp.HasHeader("X-Frame-Options") {
				return nil, nil
			}
			if csp := resp.HeaderValue("Content-Security-Policy"); strings.Contains(strings.ToLower(csp), "frame-ancestors") {
				return nil, nil
			}
			info := env.Library.Info(types.CategoryClickjacking)
			v := env.passive(types.CategoryClickjacking, "clickjacking", info.Name,
				"The page sets neither X-Frame-Options nor a Content-Security-Policy frame-ancestors directive, so any site can embed it in a frame.",
				resp, info.Confidence)
			return []types.Vulnerability{v}, nil
		},
	}
}

// cookieProbe reports cookies set by the target without protective
// attributes. Secure is only expected over https.
func cookieProbe() Probe {
	return Probe{
		Name:     "insecure-cookies",
		Category: types.CategoryInsecureCookie,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			if env.Baseline == nil {
				return nil, nil
			}
			https := false
			if u, err := url.Parse(env.Target); err == nil {
				https = u.Scheme == "https"
			}
			info := env.Library.Info(types.CategoryInsecureCookie)

			var out []types.Vulnerability
			for _, c := range env.Baseline.Cookies() {
				var missing []string
				if !c.HttpOnly {
					missing = append(missing, "HttpOnly")
				}
				if https && !c.Secure {
					missing = append(missing, "Secure")
				}
				if c.SameSite == http.SameSiteDefaultMode {
					missing = append(missing, "SameSite")
				}
				if len(missing) == 0 {
					continue
				}
				v := env.passive(types.CategoryInsecureCookie, "insecure-cookies",
					fmt.Sprintf("Cookie %s without %s", c.Name, strings.Join(missing, ", ")),
					fmt.Sprintf("The cookie %s is set without the %s attribute(s).", c.Name, strings.Join(missing, ", ")),
					env.Baseline, info.Confidence)
				v.Parameter = c.Name
				v.ProofOfConcept += "\nSet-Cookie: " + c.Raw
				out = append(out, v)
			}
			return out, nil
		},
	}
}

// infoDisclosureProbe reports version banners and debug output on the
// baseline, then provokes an error page and looks for stack traces there.
func infoDisclosureProbe() Probe {
	return Probe{
		Name:     "info-disclosure",
		Category: types.CategoryInfoDisclosure,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			var out []types.Vulnerability
			emit := func(req httpclient.Request, obs *matcher.Observation, bodyOnly bool) {
				for _, m := range env.Matcher.Match(types.CategoryInfoDisclosure, obs) {
					if m.Confidence < matcher.MinEvidence || bodyOnly && m.Kind != signatures.KindBody {
						continue
					}
					v := env.Matcher.Candidate(types.CategoryInfoDisclosure, req, obs, []matcher.Match{m})
					v.Name = fmt.Sprintf("%s (%s)", v.Name, m.PatternID)
					v.Probe = "info-disclosure"
					out = append(out, v)
				}
			}

			if env.Baseline != nil {
				emit(httpclient.Request{Method: http.MethodGet, URL: env.Target}, &matcher.Observation{Response: env.Baseline}, false)
			}

			// headers on the error page repeat the baseline's, so only its
			// body is evaluated
			req := httpclient.Request{
				Method:     http.MethodGet,
				URL:        env.targetURL(notFoundPath("info-disclosure") + "?dha=%27%22%3C"),
				NoRedirect: true,
			}
			resp, err := env.Client.Do(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				return out, err
			}
			emit(req, &matcher.Observation{Response: resp, Baseline: env.Baseline}, true)
			return out, nil
		},
	}
}
