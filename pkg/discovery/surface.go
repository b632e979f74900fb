package discovery

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

type Input struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

type Form struct {
	Page    string  `json:"page"`
	Action  string  `json:"action"`
	Method  string  `json:"method"`
	Enctype string  `json:"enctype,omitempty"`
	Inputs  []Input `json:"inputs"`
}

// Injectable returns the inputs a probe may put a payload into.
func (f Form) Injectable() []Input {
	var out []Input
	for _, in := range f.Inputs {
		switch in.Type {
		case "submit", "button", "image", "file", "reset":
			continue
		}
		out = append(out, in)
	}
	return out
}

// Values returns the default submission of the form.
func (f Form) Values() url.Values {
	v := url.Values{}
	for _, in := range f.Inputs {
		if in.Type == "file" {
			continue
		}
		val := in.Value
		if val == "" {
			val = defaultValue(in)
		}
		v.Set(in.Name, val)
	}
	return v
}

func defaultValue(in Input) string {
	switch in.Type {
	case "email":
		return "dhascan@example.com"
	case "number", "range":
		return "1"
	case "url":
		return "https://example.com/"
	case "checkbox", "radio":
		return "on"
	default:
		return "dhascan"
	}
}

// Link is a same-scope URL carrying query parameters.
type Link struct {
	URL    string   `json:"url"`
	Params []string `json:"params"`
}

// NumericParams returns the parameters whose current value is an integer.
func (l Link) NumericParams() []string {
	u, err := url.Parse(l.URL)
	if err != nil {
		return nil
	}
	q := u.Query()
	var out []string
	for _, p := range l.Params {
		if _, err := strconv.ParseInt(q.Get(p), 10, 64); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Surface is the discovered attack surface of one target.
type Surface struct {
	Pages     []string `json:"pages"`
	Forms     []Form   `json:"forms"`
	Links     []Link   `json:"links"`
	Endpoints []string `json:"endpoints"`
	Scripts   []string `json:"scripts"`

	formKeys     map[string]bool
	linkKeys     map[string]bool
	endpointKeys map[string]bool
	scriptKeys   map[string]bool
}

func newSurface() *Surface {
	return &Surface{
		formKeys:     make(map[string]bool),
		linkKeys:     make(map[string]bool),
		endpointKeys: make(map[string]bool),
		scriptKeys:   make(map[string]bool),
	}
}

// NewSurface builds a surface by hand, deduplicating like the spider does.
func NewSurface(forms []Form, links []string, endpoints []string) *Surface {
	s := newSurface()
	for _, f := range forms {
		s.addForm(f)
	}
	for _, l := range links {
		if u, err := url.Parse(l); err == nil {
			s.addLink(u)
		}
	}
	for _, e := range endpoints {
		if e == "" {
			continue
		}
		if !s.endpointKeys[e] {
			s.endpointKeys[e] = true
			s.Endpoints = append(s.Endpoints, e)
		}
	}
	return s
}

func (s *Surface) HasForms() bool     { return s != nil && len(s.Forms) > 0 }
func (s *Surface) HasParams() bool    { return s != nil && len(s.Links) > 0 }
func (s *Surface) HasEndpoints() bool { return s != nil && len(s.Endpoints) > 0 }

// Empty reports whether nothing injectable was found.
func (s *Surface) Empty() bool {
	return !s.HasForms() && !s.HasParams() && !s.HasEndpoints()
}

func (s *Surface) addForm(f Form) {
	names := make([]string, 0, len(f.Inputs))
	for _, in := range f.Inputs {
		names = append(names, in.Name)
	}
	sort.Strings(names)
	key := f.Method + " " + stripQuery(f.Action) + " " + strings.Join(names, ",")
	if s.formKeys[key] {
		return
	}
	s.formKeys[key] = true
	s.Forms = append(s.Forms, f)
}

func (s *Surface) addLink(u *url.URL) {
	q := u.Query()
	if len(q) == 0 {
		return
	}
	params := make([]string, 0, len(q))
	for k := range q {
		params = append(params, k)
	}
	sort.Strings(params)
	key := stripQuery(u.String()) + "?" + strings.Join(params, "&")
	if s.linkKeys[key] {
		return
	}
	s.linkKeys[key] = true
	s.Links = append(s.Links, Link{URL: u.String(), Params: params})
}

func (s *Surface) addEndpoints(pageURL string, raw []string) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	scope := scopeHosts(base.Host)
	for _, r := range raw {
		abs := resolveURL(pageURL, r)
		if abs == "" {
			continue
		}
		u, err := url.Parse(abs)
		if err != nil || !inScope(u, scope) {
			continue
		}
		if s.endpointKeys[abs] {
			continue
		}
		s.endpointKeys[abs] = true
		s.Endpoints = append(s.Endpoints, abs)
	}
}

func (s *Surface) addScript(src string) {
	if s.scriptKeys[src] {
		return
	}
	s.scriptKeys[src] = true
	s.Scripts = append(s.Scripts, src)
}

// GraphQLEndpoints returns discovered endpoints whose path mentions graphql.
func (s *Surface) GraphQLEndpoints() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, e := range s.Endpoints {
		if strings.Contains(strings.ToLower(e), "graphql") {
			out = append(out, e)
		}
	}
	return out
}

func stripQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
