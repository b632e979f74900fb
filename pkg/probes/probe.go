// Package probes holds the probe catalog: one or more probes per
// vulnerability category, each a request generator whose responses are
// evaluated against the signature patterns of its category.
//
// Probes only read the Env they are handed. Everything they find is
// returned as unconfirmed candidates; deduplication and false-positive
// checks happen later in the confirmation pass.
package probes

import (
	"context"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/logger"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/discovery"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/matcher"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/signatures"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

// DefaultMaxPoints caps the injection points a single probe tests.
const DefaultMaxPoints = 25

// Doer sends one HTTP request. *httpclient.Client implements it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Env is a probe's read-only view of the scan.
type Env struct {
	Target   string
	Baseline *httpclient.Response
	Surface  *discovery.Surface
	Profile  *types.TechProfile
	Client   Doer
	Matcher  *matcher.Matcher
	Library  *signatures.Library
	Logger   *logger.Logger

	MaxPoints int
}

func (e *Env) log() *logger.Logger {
	if e.Logger == nil {
		return logger.NewNop()
	}
	return e.Logger
}

func (e *Env) maxPoints() int {
	if e.MaxPoints <= 0 {
		return DefaultMaxPoints
	}
	return e.MaxPoints
}

// payloads returns the payload set of c with delays resolved against the
// named profile.
func (e *Env) payloads(c types.Category, profile string) []string {
	return e.Library.PayloadsFor(c, profile)
}

// Probe is one test of the catalog.
type Probe struct {
	Name     string
	Category types.Category
	// Applies gates the probe on the fingerprinted stack. Nil means the
	// probe is stack-agnostic.
	Applies func(*types.TechProfile) bool
	// NeedsSurface probes are soft-skipped when discovery found nothing to
	// inject into.
	NeedsSurface bool
	Run          func(ctx context.Context, env *Env) ([]types.Vulnerability, error)
}

// ProbeError is a contained per-probe failure. It never aborts a scan.
type ProbeError struct {
	Probe    string
	Category types.Category
	Err      error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s (%s): %v", e.Probe, e.Category, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Catalog maps each category to its probes.
type Catalog map[types.Category][]Probe

// Probes lists every probe in category declaration order.
func (c Catalog) Probes() []Probe {
	var out []Probe
	for _, cat := range types.AllCategories() {
		out = append(out, c[cat]...)
	}
	return out
}

func (c Catalog) Len() int {
	n := 0
	for _, ps := range c {
		n += len(ps)
	}
	return n
}

// Select returns the probes to run against a target with the given profile
// and surface, in catalog order, together with the probes that were
// soft-skipped for lack of a surface. Probes whose predicate does not hold
// are neither selected nor skipped.
func Select(catalog Catalog, profile *types.TechProfile, surface *discovery.Surface) (selected, skipped []Probe) {
	for _, p := range catalog.Probes() {
		if p.Applies != nil && !p.Applies(profile) {
			continue
		}
		if p.NeedsSurface && surface.Empty() {
			skipped = append(skipped, p)
			continue
		}
		selected = append(selected, p)
	}
	return selected, skipped
}

func hasTech(field types.TechField, names ...string) func(*types.TechProfile) bool {
	return func(p *types.TechProfile) bool {
		for _, n := range names {
			if p.Has(field, n) {
				return true
			}
		}
		return false
	}
}

func anyOf(preds ...func(*types.TechProfile) bool) func(*types.TechProfile) bool {
	return func(p *types.TechProfile) bool {
		for _, pred := range preds {
			if pred(p) {
				return true
			}
		}
		return false
	}
}
