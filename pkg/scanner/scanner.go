// Package scanner runs one scan end to end: baseline fetch, fingerprinting,
// discovery, the probe pool and the confirmation pass.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/core"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/logger"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/confirm"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/discovery"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/fingerprint"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/matcher"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/probes"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/signatures"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

// FatalTargetError means the target could not be reached for the baseline
// request. No probe runs after it.
type FatalTargetError struct {
	URL string
	Err error
}

func (e *FatalTargetError) Error() string {
	return fmt.Sprintf("target %s unreachable: %v", e.URL, e.Err)
}

func (e *FatalTargetError) Unwrap() error { return e.Err }

type Scanner struct {
	cfg           *config.Config
	client        *httpclient.Client
	limiter       *ratelimit.Limiter
	lib           *signatures.Library
	matcher       *matcher.Matcher
	fingerprinter *fingerprint.Fingerprinter
	catalog       probes.Catalog
	headers       bool // emit missing-security-header candidates
	telemetry     core.Telemetry
	logger        *logger.Logger
}

type Option func(*Scanner)

// WithCatalog replaces the built-in probe catalog.
func WithCatalog(c probes.Catalog) Option {
	return func(s *Scanner) { s.catalog = c }
}

func WithLibrary(lib *signatures.Library) Option {
	return func(s *Scanner) { s.lib = lib }
}

func WithTelemetry(t core.Telemetry) Option {
	return func(s *Scanner) { s.telemetry = t }
}

// New validates cfg and builds a scanner. Invalid options are reported as
// *config.ConfigError before any network activity.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Scanner, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	s := &Scanner{
		cfg:     cfg,
		headers: true,
		logger:  log.WithComponent("scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.lib == nil {
		lib, err := signatures.Load()
		if err != nil {
			return nil, err
		}
		s.lib = lib
	}
	if s.catalog == nil {
		s.catalog = probes.DefaultCatalog()
	}
	if s.telemetry == nil {
		s.telemetry = telemetry.NewNoop()
	}
	if len(cfg.Scan.Categories) > 0 {
		cats := make([]types.Category, 0, len(cfg.Scan.Categories))
		s.headers = false
		for _, raw := range cfg.Scan.Categories {
			c, _ := types.ParseCategory(raw)
			cats = append(cats, c)
			if c == types.CategoryMissingHeader {
				s.headers = true
			}
		}
		s.catalog = s.catalog.Only(cats...)
	}

	limiter := ratelimit.NewLimiter(ratelimit.FromConfig(cfg.RateLimit))
	client, err := httpclient.New(httpclient.FromConfig(cfg.Scan), limiter, log)
	if err != nil {
		return nil, &config.ConfigError{Field: "scan.proxy", Reason: err.Error()}
	}
	s.client = client
	s.limiter = limiter
	s.matcher = matcher.New(s.lib)
	s.fingerprinter = fingerprint.New(s.lib, log)
	return s, nil
}

// ValidateTarget checks that target is an absolute http or https URL.
func ValidateTarget(target string) error {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return &config.ConfigError{Field: "target", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &config.ConfigError{Field: "target", Reason: fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)}
	}
	if u.Host == "" {
		return &config.ConfigError{Field: "target", Reason: "missing host"}
	}
	return nil
}

// Scan runs every selected probe against target and returns the confirmed
// findings. Only *config.ConfigError and *FatalTargetError are returned as
// failures; probe errors are recorded in the result. When ctx is cancelled
// the result built so far is returned together with ctx.Err().
func (s *Scanner) Scan(ctx context.Context, target string) (*types.ScanResult, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}
	target = strings.TrimSpace(target)

	start := time.Now()
	scanID := uuid.New().String()
	log := s.logger.WithScanID(scanID).WithTarget(target)

	ctx, span := log.StartOperation(ctx, "scanner.Scan", "target", target)
	var scanErr error
	defer func() {
		log.FinishOperation(ctx, span, "scanner.Scan", start, scanErr)
	}()

	result := &types.ScanResult{
		ScanID:          scanID,
		TargetURL:       target,
		StartedAt:       start,
		TechProfile:     types.NewTechProfile(),
		Vulnerabilities: []types.Vulnerability{},
	}
	finish := func(err error) (*types.ScanResult, error) {
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(start)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.Interrupted = true
		}
		s.telemetry.RecordScan(ctx, result.Duration, err == nil)
		scanErr = err
		return result, err
	}

	log.Infow("Starting scan", "threads", s.cfg.Scan.Threads, "probes", s.catalog.Len())

	baseline, err := s.client.Get(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return finish(ctx.Err())
		}
		scanErr = &FatalTargetError{URL: target, Err: err}
		s.telemetry.RecordScan(ctx, time.Since(start), false)
		return nil, scanErr
	}
	log.Infow("Baseline fetched", "status", baseline.StatusCode, "elapsed_ms", baseline.Elapsed.Milliseconds())

	profile := s.fingerprinter.Fingerprint(baseline)
	result.TechProfile = profile

	spider := discovery.NewSpider(s.client, discovery.Config{
		MaxPages: s.cfg.Scan.MaxPages,
		MaxDepth: s.cfg.Scan.MaxDepth,
	}, log)
	surface, err := spider.Discover(ctx, target, baseline)
	if err != nil {
		if ctx.Err() != nil {
			return finish(ctx.Err())
		}
		log.Warnw("Discovery failed, continuing without a surface", "error", err)
	}
	if surface == nil {
		surface = discovery.NewSurface(nil, nil, nil)
	}

	selected, skipped := probes.Select(s.catalog, profile, surface)
	result.ProbesSkipped = len(skipped)
	for _, p := range skipped {
		log.Debugw("Probe skipped, nothing to inject into", "probe", p.Name)
		s.telemetry.RecordProbe(ctx, p.Category, core.ProbeOutcomeSkipped)
	}

	env := &probes.Env{
		Target:    target,
		Baseline:  baseline,
		Surface:   surface,
		Profile:   profile,
		Client:    s.client,
		Matcher:   s.matcher,
		Library:   s.lib,
		Logger:    log,
		MaxPoints: s.cfg.Scan.MaxPoints,
	}
	slots := s.runProbes(ctx, env, selected)

	var candidates []types.Vulnerability
	if s.headers {
		for _, v := range s.fingerprinter.MissingHeaderCandidates(target, baseline, profile) {
			s.matcher.Score(&v)
			candidates = append(candidates, v)
		}
	}
	for i, sl := range slots {
		switch sl.outcome {
		case core.ProbeOutcomeOK:
			result.ProbesRun++
			candidates = append(candidates, sl.findings...)
		case core.ProbeOutcomeFailed:
			result.ProbesRun++
			result.ProbesFailed++
			result.ProbeErrors = append(result.ProbeErrors, sl.err.Error())
		}
		s.telemetry.RecordProbe(ctx, selected[i].Category, sl.outcome)
	}

	confirmer := confirm.New(
		confirm.WithMinConfidence(s.cfg.Scan.MinConfidence),
		confirm.WithReplayer(s.client, s.matcher),
		confirm.WithLogger(log),
	)
	out := confirmer.Confirm(ctx, candidates)
	result.Vulnerabilities = append(result.Vulnerabilities, out.Confirmed...)
	result.LowConfidence = out.LowConfidence

	for _, v := range result.Vulnerabilities {
		log.LogVulnerability(ctx, v)
		s.telemetry.RecordFinding(ctx, v.Severity)
	}

	pacing := s.limiter.Stats()
	log.Infow("Scan completed",
		"probes_run", result.ProbesRun,
		"probes_failed", result.ProbesFailed,
		"probes_skipped", result.ProbesSkipped,
		"candidates", len(candidates),
		"confirmed", len(result.Vulnerabilities),
		"low_confidence", len(result.LowConfidence),
		"requests", pacing.Requests,
		"requests_delayed", pacing.Delayed,
		"duration", time.Since(start).String())

	return finish(ctx.Err())
}
