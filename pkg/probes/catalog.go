package probes

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

// DefaultCatalog returns the built-in probes keyed by category. Missing
// security headers are not a probe: the fingerprinter derives them from
// the baseline response.
func DefaultCatalog() Catalog {
	c := Catalog{}
	for _, p := range []Probe{
		sqlErrorProbe(),
		sqlTimeProbe(),
		xssProbe(),
		ssrfProbe(),
		openRedirectProbe(),
		pathTraversalProbe(),
		commandInjectionProbe(),
		sstiProbe(),
		xxeProbe(),
		crlfProbe(),
		idorProbe(),
		corsProbe(),
		cookieProbe(),
		infoDisclosureProbe(),
		sensitiveFilesProbe(),
		directoryListingProbe(),
		httpMethodsProbe(),
		graphqlProbe(),
		wordpressUsersProbe(),
		phpInfoProbe(),
		actuatorProbe(),
		clickjackingProbe(),
	} {
		if err := c.Register(p); err != nil {
			panic(err)
		}
	}
	return c
}

// Register adds p under its category. Names are unique across the catalog.
func (c Catalog) Register(p Probe) error {
	if p.Name == "" || p.Run == nil {
		return fmt.Errorf("probe %q: name and run function are required", p.Name)
	}
	if _, err := types.ParseCategory(string(p.Category)); err != nil {
		return fmt.Errorf("probe %q: %w", p.Name, err)
	}
	for _, ps := range c {
		for _, existing := range ps {
			if existing.Name == p.Name {
				return fmt.Errorf("probe %q registered twice", p.Name)
			}
		}
	}
	c[p.Category] = append(c[p.Category], p)
	return nil
}

// Only returns a catalog restricted to the given categories.
func (c Catalog) Only(categories ...types.Category) Catalog {
	out := Catalog{}
	for _, cat := range categories {
		if ps, ok := c[cat]; ok {
			out[cat] = append([]Probe(nil), ps...)
		}
	}
	return out
}
