package probes

import (
	"context"
	"net/http"
	"strings"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/matcher"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const (
	introspectionQuery = `{"query":"query IntrospectionQuery { __schema { queryType { name } types { name kind } } }"}`

	traceHeader = "X-Dha-Trace"
	traceValue  = "dha-trace-marker"
	putMarker   = "DHA_PUT_MARKER"
)

func pathProbe(name string, category types.Category, applies func(*types.TechProfile) bool, filter func(string) bool) Probe {
	return Probe{
		Name:     name,
		Category: category,
		Applies:  applies,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			var paths []string
			for _, p := range env.payloads(category, "") {
				if filter == nil || filter(p) {
					paths = append(paths, p)
				}
			}
			return env.fetchPaths(ctx, pathCheck{probe: name, category: category, paths: paths})
		},
	}
}

func sensitiveFilesProbe() Probe {
	return pathProbe("sensitive-files", types.CategorySensitiveFile, nil, nil)
}

func directoryListingProbe() Probe {
	return pathProbe("directory-listing", types.CategoryDirectoryListing, nil, nil)
}

func wordpressUsersProbe() Probe {
	return pathProbe("wordpress-users", types.CategoryCMSExposure, hasTech(types.FieldCMS, "WordPress"), nil)
}

func isActuatorPath(p string) bool { return strings.HasPrefix(p, "/actuator") }

func phpInfoProbe() Probe {
	return pathProbe("phpinfo", types.CategoryFrameworkExposure,
		hasTech(types.FieldLanguage, "PHP"),
		func(p string) bool { return !isActuatorPath(p) })
}

func actuatorProbe() Probe {
	return pathProbe("spring-actuator", types.CategoryFrameworkExposure,
		anyOf(hasTech(types.FieldFramework, "Spring"), hasTech(types.FieldLanguage, "Java")),
		isActuatorPath)
}

// graphqlProbe sends an introspection query to discovered GraphQL
// endpoints and to the usual GraphQL paths.
func graphqlProbe() Probe {
	return Probe{
		Name:         "graphql-introspection",
		Category:     types.CategoryGraphQLIntrospection,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			var paths []string
			seen := make(map[string]bool)
			for _, p := range append(env.Surface.GraphQLEndpoints(), env.payloads(types.CategoryGraphQLIntrospection, "")...) {
				u := stripQuery(env.targetURL(p))
				if !seen[u] {
					seen[u] = true
					paths = append(paths, u)
				}
			}
			return env.fetchPaths(ctx, pathCheck{
				probe:    "graphql-introspection",
				category: types.CategoryGraphQLIntrospection,
				paths:    paths,
				method:   http.MethodPost,
				body:     introspectionQuery,
				headers:  map[string]string{"Content-Type": "application/json"},
			})
		},
	}
}

// httpMethodsProbe checks whether TRACE echoes the request and whether PUT
// stores a resource that can be read back. A stored resource is deleted
// again.
func httpMethodsProbe() Probe {
	return Probe{
		Name:     "http-methods",
		Category: types.CategoryHTTPMethod,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			var (
				out []types.Vulnerability
				t   tally
			)

			trace := httpclient.Request{
				Method:     http.MethodTrace,
				URL:        env.Target,
				Headers:    map[string]string{traceHeader: traceValue},
				NoRedirect: true,
			}
			resp, err := env.Client.Do(ctx, trace)
			if cerr := t.record(ctx, err); cerr != nil {
				return out, cerr
			}
			if err == nil {
				obs := &matcher.Observation{Response: resp, Baseline: env.Baseline}
				if ms := env.Matcher.Match(types.CategoryHTTPMethod, obs); hasPattern(ms, "trace-echo") {
					v := env.Matcher.Candidate(types.CategoryHTTPMethod, trace, obs, ms)
					v.Name = "TRACE method enabled"
					v.Probe = "http-methods"
					out = append(out, v)
				}
			}

			putURL := env.targetURL(notFoundPath("http-methods"))
			put := httpclient.Request{
				Method:     http.MethodPut,
				URL:        putURL,
				Body:       putMarker,
				Headers:    map[string]string{"Content-Type": "text/plain"},
				NoRedirect: true,
			}
			resp, err = env.Client.Do(ctx, put)
			if cerr := t.record(ctx, err); cerr != nil {
				return out, cerr
			}
			if err != nil || resp.StatusCode >= 300 {
				return out, t.err()
			}

			get := httpclient.Request{Method: http.MethodGet, URL: putURL, NoRedirect: true}
			stored, err := env.Client.Do(ctx, get)
			if cerr := t.record(ctx, err); cerr != nil {
				return out, cerr
			}
			if err == nil {
				obs := &matcher.Observation{Response: stored, Baseline: env.Baseline}
				if ms := env.Matcher.Match(types.CategoryHTTPMethod, obs); hasPattern(ms, "put-stored") {
					v := env.Matcher.Candidate(types.CategoryHTTPMethod, put, obs, ms)
					v.Name = "PUT method allows file upload"
					v.Probe = "http-methods"
					v.HTTPStatus = resp.StatusCode
					out = append(out, v)

					_, _ = env.Client.Do(ctx, httpclient.Request{Method: http.MethodDelete, URL: putURL, NoRedirect: true})
				}
			}
			return out, t.err()
		},
	}
}

func hasPattern(ms []matcher.Match, id string) bool {
	for _, m := range ms {
		if m.PatternID == id {
			return true
		}
	}
	return false
}
