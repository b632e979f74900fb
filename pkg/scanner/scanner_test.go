package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/probes"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

func testConfig(threads int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Scan.Threads = threads
	cfg.Scan.Timeout = 2 * time.Second
	cfg.RateLimit.RequestsPerSecond = 0
	return cfg
}

// hardenedHandler wraps h with every security header so header candidates
// stay out of the results.
func hardenedHandler(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Permissions-Policy", "camera=()")
		h(w, r)
	})
}

func quietServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(hardenedHandler(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><p>nothing to see</p></body></html>")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func finding(cat types.Category, url, name string, confidence int) types.Vulnerability {
	return types.Vulnerability{
		Name:        name,
		Category:    cat,
		Severity:    types.SeverityMedium,
		AffectedURL: url,
		Method:      "GET",
		Confidence:  confidence,
		Evidence:    types.Evidence{Request: types.RequestSpec{Method: "GET", URL: url}},
	}
}

func staticProbe(name string, cat types.Category, vs ...types.Vulnerability) probes.Probe {
	return probes.Probe{
		Name:     name,
		Category: cat,
		Run: func(ctx context.Context, env *probes.Env) ([]types.Vulnerability, error) {
			return vs, nil
		},
	}
}

func catalogOf(t *testing.T, ps ...probes.Probe) probes.Catalog {
	t.Helper()
	c := probes.Catalog{}
	for _, p := range ps {
		require.NoError(t, c.Register(p))
	}
	return c
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(0)

	_, err := New(cfg, nil)
	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "scan.threads", cerr.Field)
}

func TestScan_RejectsInvalidTarget(t *testing.T) {
	s, err := New(testConfig(2), nil)
	require.NoError(t, err)

	for _, target := range []string{"ftp://example.com", "example.com/path", "http://", "::"} {
		t.Run(target, func(t *testing.T) {
			res, err := s.Scan(context.Background(), target)
			assert.Nil(t, res)
			var cerr *config.ConfigError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestScan_UnreachableTargetRunsNoProbes(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	var ran atomic.Int32
	p := probes.Probe{
		Name:     "counter",
		Category: types.CategoryXSS,
		Run: func(ctx context.Context, env *probes.Env) ([]types.Vulnerability, error) {
			ran.Add(1)
			return nil, nil
		},
	}
	s, err := New(testConfig(2), nil, WithCatalog(catalogOf(t, p)))
	require.NoError(t, err)

	res, err := s.Scan(context.Background(), target)
	assert.Nil(t, res)
	var ferr *FatalTargetError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, target, ferr.URL)
	assert.NotNil(t, errors.Unwrap(ferr))
	assert.Zero(t, ran.Load())
}

func TestScan_BaselineTimeoutIsFatal(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	var ran atomic.Int32
	p := probes.Probe{
		Name:     "counter",
		Category: types.CategoryXSS,
		Run: func(ctx context.Context, env *probes.Env) ([]types.Vulnerability, error) {
			ran.Add(1)
			return nil, nil
		},
	}
	cfg := testConfig(2)
	cfg.Scan.Timeout = 200 * time.Millisecond
	s, err := New(cfg, nil, WithCatalog(catalogOf(t, p)))
	require.NoError(t, err)

	start := time.Now()
	res, err := s.Scan(context.Background(), srv.URL)
	assert.Nil(t, res, "a failed baseline is not a completed scan")
	var ferr *FatalTargetError
	require.ErrorAs(t, err, &ferr)
	assert.True(t, httpclient.IsTimeout(ferr.Err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, ran.Load())
}

func TestScan_NeverSendsPayloadsOffsite(t *testing.T) {
	var offsite atomic.Int32
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offsite.Add(1)
		fmt.Fprint(w, "You have an error in your SQL syntax")
	}))
	defer other.Close()

	srv := httptest.NewServer(hardenedHandler(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body>
<form method="POST" action="%s/subscribe"><input type="email" name="email"><input name="name"></form>
</body></html>`, other.URL)
	}))
	defer srv.Close()

	cfg := testConfig(4)
	cfg.Scan.Categories = []string{"sql-injection"}
	s, err := New(cfg, nil)
	require.NoError(t, err)

	res, err := s.Scan(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, res.Vulnerabilities)
	assert.Zero(t, offsite.Load(), "requests reached a host other than the target")
}

func TestScan_FindsErrorBasedSQLInjection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/item?id=1">item</a></body></html>`)
	})
	mux.HandleFunc("/item", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("id"), "'") {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "You have an error in your SQL syntax; check the manual that corresponds to your MySQL server version")
			return
		}
		fmt.Fprint(w, "item 1")
	})
	srv := httptest.NewServer(hardenedHandler(mux.ServeHTTP))
	defer srv.Close()

	s, err := New(testConfig(4), nil, WithCatalog(probes.DefaultCatalog().Only(types.CategorySQLInjection)))
	require.NoError(t, err)

	res, err := s.Scan(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NotEmpty(t, res.Vulnerabilities)

	v := res.Vulnerabilities[0]
	assert.Equal(t, types.CategorySQLInjection, v.Category)
	assert.Equal(t, "id", v.Parameter)
	assert.GreaterOrEqual(t, v.Confidence, 85)
	assert.NotEmpty(t, v.ID)
	assert.Contains(t, v.ProofOfConcept, "SQL syntax")
	assert.Equal(t, 1, res.ProbesRun)
	assert.Zero(t, res.ProbesFailed)
	assert.False(t, res.Interrupted)
	assert.NotEmpty(t, res.ScanID)
	assert.True(t, res.FinishedAt.After(res.StartedAt) || res.FinishedAt.Equal(res.StartedAt))
}

func TestScan_ReportsMissingHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>bare</body></html>")
	}))
	defer srv.Close()

	s, err := New(testConfig(2), nil, WithCatalog(probes.Catalog{}))
	require.NoError(t, err)

	res, err := s.Scan(context.Background(), srv.URL)
	require.NoError(t, err)

	var names []string
	for _, v := range res.Vulnerabilities {
		assert.Equal(t, types.CategoryMissingHeader, v.Category)
		names = append(names, v.Name)
	}
	assert.Contains(t, names, "Missing X-Frame-Options")
	assert.NotContains(t, names, "Missing Strict-Transport-Security", "HSTS is only expected over https")
	assert.False(t, res.TechProfile.SecurityHeaders["X-Frame-Options"])
}

func TestScan_CategoryFilterDropsHeaderCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>bare</body></html>")
	}))
	defer srv.Close()

	cfg := testConfig(2)
	cfg.Scan.Categories = []string{"xss"}
	s, err := New(cfg, nil)
	require.NoError(t, err)

	res, err := s.Scan(context.Background(), srv.URL)
	require.NoError(t, err)
	for _, v := range res.Vulnerabilities {
		assert.Equal(t, types.CategoryXSS, v.Category)
	}
}

func TestScan_ContainsProbeFailures(t *testing.T) {
	srv := quietServer(t)

	panicking := probes.Probe{
		Name:     "panics",
		Category: types.CategorySSTI,
		Run: func(ctx context.Context, env *probes.Env) ([]types.Vulnerability, error) {
			var m map[string]int
			m["boom"]++
			return nil, nil
		},
	}
	failing := probes.Probe{
		Name:     "fails",
		Category: types.CategorySSRF,
		Run: func(ctx context.Context, env *probes.Env) ([]types.Vulnerability, error) {
			return []types.Vulnerability{finding(types.CategorySSRF, env.Target, "partial", 90)}, errors.New("upstream reset")
		},
	}
	healthy := staticProbe("healthy", types.CategoryXSS, finding(types.CategoryXSS, srv.URL+"/q", "Reflected XSS", 80))

	s, err := New(testConfig(3), nil, WithCatalog(catalogOf(t, panicking, failing, healthy)))
	require.NoError(t, err)

	res, err := s.Scan(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, 3, res.ProbesRun)
	assert.Equal(t, 2, res.ProbesFailed)
	require.Len(t, res.ProbeErrors, 2)
	assert.Contains(t, res.ProbeErrors[0], "probe fails (ssrf)")
	assert.Contains(t, res.ProbeErrors[1], "probe panics (ssti)")
	require.Len(t, res.Vulnerabilities, 1)
	assert.Equal(t, "Reflected XSS", res.Vulnerabilities[0].Name)
}

func TestScan_PoolSizeDoesNotChangeResults(t *testing.T) {
	srv := quietServer(t)

	var ps []probes.Probe
	cats := types.AllCategories()
	for i := 0; i < 12; i++ {
		cat := cats[i%len(cats)]
		ps = append(ps, probes.Probe{
			Name:     fmt.Sprintf("probe-%02d", i),
			Category: cat,
			Run: func(ctx context.Context, env *probes.Env) ([]types.Vulnerability, error) {
				time.Sleep(time.Duration((12-i)%4) * 5 * time.Millisecond)
				if i%5 == 4 {
					return nil, fmt.Errorf("probe %d broke", i)
				}
				return []types.Vulnerability{
					finding(cat, fmt.Sprintf("%s/p%d", env.Target, i%3), "finding", 50+i*4),
					finding(cat, fmt.Sprintf("%s/p%d", env.Target, i%3), "finding", 40+i),
				}, nil
			},
		})
	}
	catalog := catalogOf(t, ps...)

	scan := func(threads int) *types.ScanResult {
		s, err := New(testConfig(threads), nil, WithCatalog(catalog))
		require.NoError(t, err)
		res, err := s.Scan(context.Background(), srv.URL)
		require.NoError(t, err)
		return res
	}

	serial := scan(1)
	parallel := scan(8)
	assert.Equal(t, serial.Vulnerabilities, parallel.Vulnerabilities)
	assert.Equal(t, serial.LowConfidence, parallel.LowConfidence)
	assert.Equal(t, serial.ProbeErrors, parallel.ProbeErrors)
	assert.Equal(t, serial.ProbesFailed, parallel.ProbesFailed)
	assert.NotEmpty(t, serial.Vulnerabilities)
}

func TestScan_CancellationStopsDispatch(t *testing.T) {
	srv := quietServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var later atomic.Int32
	first := probes.Probe{
		Name:     "cancels",
		Category: types.CategorySQLInjection,
		Run: func(ctx context.Context, env *probes.Env) ([]types.Vulnerability, error) {
			cancel()
			<-ctx.Done()
			return []types.Vulnerability{finding(types.CategorySQLInjection, env.Target, "late", 90)}, ctx.Err()
		},
	}
	ps := []probes.Probe{first}
	for i := 0; i < 5; i++ {
		ps = append(ps, probes.Probe{
			Name:     fmt.Sprintf("later-%d", i),
			Category: types.CategoryXSS,
			Run: func(ctx context.Context, env *probes.Env) ([]types.Vulnerability, error) {
				later.Add(1)
				return nil, nil
			},
		})
	}

	s, err := New(testConfig(1), nil, WithCatalog(catalogOf(t, ps...)))
	require.NoError(t, err)

	res, err := s.Scan(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Interrupted)
	assert.Zero(t, later.Load(), "no probe is dispatched after cancellation")
	assert.Zero(t, res.ProbesRun)
	assert.Empty(t, res.ProbeErrors)
	for _, v := range res.Vulnerabilities {
		assert.NotEqual(t, "late", v.Name)
	}
}
