package probes

import (
	"context"
	"net/http"
	"strings"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/matcher"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const (
	profileSQLSleep = "sql-sleep"
	profileCmdSleep = "cmd-sleep"

	cmdEchoMarker = "DHA42CMD"
	sstiMarker    = "DHA49SSTI"
)

func sqlErrorProbe() Probe {
	return Probe{
		Name:         "sqli-error",
		Category:     types.CategorySQLInjection,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			return env.inject(ctx, injection{
				probe:    "sqli-error",
				category: types.CategorySQLInjection,
				payloads: env.payloads(types.CategorySQLInjection, ""),
			})
		},
	}
}

func sqlTimeProbe() Probe {
	return Probe{
		Name:         "sqli-time",
		Category:     types.CategoryBlindSQLInjection,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			return env.inject(ctx, injection{
				probe:    "sqli-time",
				category: types.CategoryBlindSQLInjection,
				payloads: env.payloads(types.CategoryBlindSQLInjection, profileSQLSleep),
				check:    checkRepeatable,
			})
		},
	}
}

func xssProbe() Probe {
	return Probe{
		Name:         "xss-reflected",
		Category:     types.CategoryXSS,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			return env.inject(ctx, injection{
				probe:    "xss-reflected",
				category: types.CategoryXSS,
				payloads: env.payloads(types.CategoryXSS, ""),
				check:    checkDifferential,
				markers:  payloadMarker,
			})
		},
	}
}

func ssrfProbe() Probe {
	return Probe{
		Name:         "ssrf",
		Category:     types.CategorySSRF,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			return env.inject(ctx, injection{
				probe:    "ssrf",
				category: types.CategorySSRF,
				payloads: env.payloads(types.CategorySSRF, ""),
			})
		},
	}
}

// redirectParams are tried on the target itself even when discovery found
// no parameters.
var redirectParams = []string{"redirect", "url", "next", "return", "returnTo", "redirect_uri"}

func redirectPoints(env *Env) []Point {
	out := make([]Point, 0, len(redirectParams))
	for _, p := range redirectParams {
		out = append(out, Point{Method: http.MethodGet, URL: env.Target, Param: p, Values: map[string][]string{p: {"/"}}})
	}
	return out
}

func openRedirectProbe() Probe {
	return Probe{
		Name:     "open-redirect",
		Category: types.CategoryOpenRedirect,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			return env.inject(ctx, injection{
				probe:      "open-redirect",
				category:   types.CategoryOpenRedirect,
				payloads:   env.payloads(types.CategoryOpenRedirect, ""),
				noRedirect: true,
				extra:      redirectPoints,
			})
		},
	}
}

func pathTraversalProbe() Probe {
	return Probe{
		Name:         "path-traversal",
		Category:     types.CategoryPathTraversal,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			return env.inject(ctx, injection{
				probe:    "path-traversal",
				category: types.CategoryPathTraversal,
				payloads: env.payloads(types.CategoryPathTraversal, ""),
			})
		},
	}
}

func commandInjectionProbe() Probe {
	return Probe{
		Name:         "command-injection",
		Category:     types.CategoryCommandInjection,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			return env.inject(ctx, injection{
				probe:    "command-injection",
				category: types.CategoryCommandInjection,
				payloads: env.payloads(types.CategoryCommandInjection, profileCmdSleep),
				check:    checkByKind,
				markers: func(payload string) []string {
					if strings.Contains(payload, "echo") {
						return []string{cmdEchoMarker}
					}
					return nil
				},
			})
		},
	}
}

func sstiProbe() Probe {
	return Probe{
		Name:         "ssti",
		Category:     types.CategorySSTI,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			return env.inject(ctx, injection{
				probe:    "ssti",
				category: types.CategorySSTI,
				payloads: env.payloads(types.CategorySSTI, ""),
				check: func(ms []matcher.Match) types.CheckKind {
					for _, m := range ms {
						if m.PatternID == "evaluated-expression" {
							return types.CheckDifferential
						}
					}
					return types.CheckNone
				},
				markers: func(string) []string { return []string{sstiMarker} },
			})
		},
	}
}

func crlfProbe() Probe {
	return Probe{
		Name:         "crlf-injection",
		Category:     types.CategoryCRLFInjection,
		NeedsSurface: true,
		Run: func(ctx context.Context, env *Env) ([]types.Vulnerability, error) {
			return env.inject(ctx, injection{
				probe:      "crlf-injection",
				category:   types.CategoryCRLFInjection,
				payloads:   env.payloads(types.CategoryCRLFInjection, ""),
				noRedirect: true,
			})
		},
	}
}
