// Package confirm turns raw probe candidates into reportable findings.
//
// Candidates pass four steps in order: deduplication, the differential
// check, the repeatability check and the confidence floor. Whatever fails
// the differential check is a false positive and is dropped; whatever
// cannot be reproduced or scores below the floor is kept aside as
// low-confidence.
package confirm

import (
	"context"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/logger"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/matcher"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/signatures"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

const (
	DefaultMinConfidence = 50

	// RequiredReproductions is how often a timing-class candidate must be
	// observed before it is trusted.
	RequiredReproductions = 2
)

// Replayer reissues a recorded request.
type Replayer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Outcome is the result of one confirmation pass. Confirmed is ordered by
// risk score, highest first, then by ID.
type Outcome struct {
	Confirmed     []types.Vulnerability
	LowConfidence []types.Vulnerability
	Deduped       []types.Vulnerability
	Dropped       []types.Vulnerability
}

type Confirmer struct {
	minConfidence int
	replayer      Replayer
	matcher       *matcher.Matcher
	logger        *logger.Logger
}

type Option func(*Confirmer)

func WithMinConfidence(n int) Option {
	return func(c *Confirmer) { c.minConfidence = types.ClampConfidence(n) }
}

// WithReplayer lets the confirmer fetch missing baselines and reproduce
// timing-class candidates. The matcher re-evaluates replayed responses.
func WithReplayer(r Replayer, m *matcher.Matcher) Option {
	return func(c *Confirmer) {
		c.replayer = r
		c.matcher = m
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Confirmer) { c.logger = l.WithComponent("confirm") }
}

func New(opts ...Option) *Confirmer {
	c := &Confirmer{
		minConfidence: DefaultMinConfidence,
		logger:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Confirm runs the pass. It never returns fewer deduplicated entries than
// confirmed ones, nor more than it was given.
func (c *Confirmer) Confirm(ctx context.Context, candidates []types.Vulnerability) Outcome {
	var out Outcome
	out.Deduped = Dedup(candidates)

	for _, v := range out.Deduped {
		switch v.Evidence.Check {
		case types.CheckDifferential:
			c.fillBaseline(ctx, &v)
			if !Differential(v) {
				c.logger.Debugw("Dropping candidate that does not differ from baseline",
					"category", string(v.Category), "url", v.AffectedURL, "payload", v.Payload)
				out.Dropped = append(out.Dropped, v)
				continue
			}
		case types.CheckRepeatable:
			c.reproduce(ctx, &v)
			if v.Evidence.Reproductions < RequiredReproductions {
				c.logger.Debugw("Candidate could not be reproduced",
					"category", string(v.Category), "url", v.AffectedURL, "reproductions", v.Evidence.Reproductions)
				v.AssignID()
				out.LowConfidence = append(out.LowConfidence, v)
				continue
			}
		}

		v.AssignID()
		if v.Confidence < c.minConfidence {
			out.LowConfidence = append(out.LowConfidence, v)
			continue
		}
		out.Confirmed = append(out.Confirmed, v)
	}

	SortByRisk(out.Confirmed)
	SortByRisk(out.LowConfidence)

	c.logger.Infow("Confirmation pass completed",
		"candidates", len(candidates),
		"deduplicated", len(out.Deduped),
		"confirmed", len(out.Confirmed),
		"low_confidence", len(out.LowConfidence),
		"dropped", len(out.Dropped))
	return out
}

// Dedup collapses candidates that share a dedup key. The survivor is the
// one with the highest confidence; header maps are merged into it and
// reproductions are summed. First-seen order is kept.
func Dedup(candidates []types.Vulnerability) []types.Vulnerability {
	index := make(map[string]int, len(candidates))
	var out []types.Vulnerability
	for _, v := range candidates {
		key := v.DedupKey()
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, v)
			continue
		}
		out[i] = merge(out[i], v)
	}
	return out
}

func merge(a, b types.Vulnerability) types.Vulnerability {
	keep, other := a, b
	if b.Confidence > a.Confidence {
		keep, other = b, a
	}
	keep.RequestHeaders = union(keep.RequestHeaders, other.RequestHeaders)
	keep.ResponseHeaders = union(keep.ResponseHeaders, other.ResponseHeaders)
	keep.Evidence.Reproductions = reproductions(a) + reproductions(b)
	if keep.Evidence.BaselineBody == "" {
		keep.Evidence.BaselineBody = other.Evidence.BaselineBody
	}
	return keep
}

func reproductions(v types.Vulnerability) int {
	if v.Evidence.Reproductions < 1 {
		return 1
	}
	return v.Evidence.Reproductions
}

// union returns a new map holding both maps' entries; a wins on conflicts.
func union(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return a
	}
	out := make(map[string]string, len(a)+len(b))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Differential reports whether the payload response carries evidence the
// baseline does not. With markers, every marker must be in the payload
// response and absent from the baseline. Without markers the two bodies
// must differ.
func Differential(v types.Vulnerability) bool {
	ev := v.Evidence
	if len(ev.Markers) == 0 {
		return ev.ResponseBody != ev.BaselineBody
	}
	for _, m := range ev.Markers {
		if !strings.Contains(ev.ResponseBody, m) || strings.Contains(ev.BaselineBody, m) {
			return false
		}
	}
	return true
}

func (c *Confirmer) fillBaseline(ctx context.Context, v *types.Vulnerability) {
	if v.Evidence.BaselineBody != "" || v.Evidence.Baseline == nil || c.replayer == nil {
		return
	}
	resp, err := c.replayer.Do(ctx, httpclient.RequestFromSpec(*v.Evidence.Baseline))
	if err != nil {
		c.logger.Debugw("Baseline fetch failed", "url", v.Evidence.Baseline.URL, "error", err)
		return
	}
	v.Evidence.BaselineBody = resp.Body
}

// reproduce replays the candidate's request until it has been observed
// RequiredReproductions times or a replay fails to show the behaviour.
func (c *Confirmer) reproduce(ctx context.Context, v *types.Vulnerability) {
	if c.replayer == nil || c.matcher == nil {
		return
	}
	for v.Evidence.Reproductions < RequiredReproductions {
		if ctx.Err() != nil {
			return
		}
		resp, err := c.replayer.Do(ctx, httpclient.RequestFromSpec(v.Evidence.Request))
		if err != nil {
			c.logger.Debugw("Replay failed", "url", v.Evidence.Request.URL, "error", err)
			return
		}
		obs := &matcher.Observation{
			Response:        resp,
			Payload:         v.Payload,
			BaselineElapsed: v.Evidence.BaselineElapsed,
		}
		if !reproduced(c.matcher.Match(v.Category, obs)) {
			return
		}
		v.Evidence.Reproductions++
	}
}

func reproduced(ms []matcher.Match) bool {
	for _, m := range ms {
		if m.Kind == signatures.KindTiming || m.Confidence >= matcher.MinEvidence {
			return true
		}
	}
	return false
}

// SortByRisk orders findings by risk score, highest first, then by ID.
func SortByRisk(vs []types.Vulnerability) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].RiskScore != vs[j].RiskScore {
			return vs[i].RiskScore > vs[j].RiskScore
		}
		return vs[i].ID < vs[j].ID
	})
}
