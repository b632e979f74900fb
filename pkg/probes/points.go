package probes

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
)

// Point is one parameter a payload can be placed in.
type Point struct {
	Method string
	URL    string
	Param  string
	Values url.Values
	InBody bool
}

// Request places value into the point's parameter. Pre-encoded payloads
// are sent as they are; everything else is query-escaped.
func (p Point) Request(value string) httpclient.Request {
	return p.build(value, preEncoded(value))
}

// preEncoded reports whether value holds at least one %XX escape and
// otherwise only bytes that may appear unescaped in a query value.
func preEncoded(value string) bool {
	escaped := false
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == '%':
			if i+2 >= len(value) || !isHex(value[i+1]) || !isHex(value[i+2]) {
				return false
			}
			escaped = true
			i += 2
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case strings.IndexByte("-._~:/@!$'()*,;", c) >= 0:
		default:
			return false
		}
	}
	return escaped
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// Baseline is the unmodified submission of the point.
func (p Point) Baseline() httpclient.Request {
	return p.build(p.Values.Get(p.Param), false)
}

func (p Point) build(value string, raw bool) httpclient.Request {
	query := encode(p.Values, p.Param, value, raw)
	if p.InBody {
		return httpclient.Request{
			Method:  p.Method,
			URL:     p.URL,
			Body:    query,
			Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		}
	}
	return httpclient.Request{Method: p.Method, URL: stripQuery(p.URL) + "?" + query}
}

func (p Point) key() string {
	return p.Method + " " + stripQuery(p.URL) + " " + p.Param
}

func encode(values url.Values, param, value string, raw bool) string {
	keys := make([]string, 0, len(values)+1)
	for k := range values {
		keys = append(keys, k)
	}
	if _, ok := values[param]; !ok {
		keys = append(keys, param)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == param {
			v := value
			if !raw {
				v = url.QueryEscape(value)
			}
			parts = append(parts, url.QueryEscape(k)+"="+v)
			continue
		}
		for _, v := range values[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

func stripQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// points lists the injection points of the surface: query parameters of
// links and endpoints, then form fields. The list is deterministic and
// capped at the env's point budget.
func (e *Env) points() []Point {
	var out []Point
	seen := make(map[string]bool)
	add := func(p Point) {
		if len(out) >= e.maxPoints() || seen[p.key()] {
			return
		}
		seen[p.key()] = true
		out = append(out, p)
	}

	if e.Surface == nil {
		return nil
	}
	for _, l := range e.Surface.Links {
		for _, p := range queryPoints(l.URL) {
			add(p)
		}
	}
	for _, ep := range e.Surface.Endpoints {
		for _, p := range queryPoints(ep) {
			add(p)
		}
	}
	for _, f := range e.Surface.Forms {
		values := f.Values()
		for _, in := range f.Injectable() {
			add(Point{
				Method: f.Method,
				URL:    f.Action,
				Param:  in.Name,
				Values: values,
				InBody: f.Method != http.MethodGet,
			})
		}
	}
	return out
}

func queryPoints(raw string) []Point {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	q := u.Query()
	names := make([]string, 0, len(q))
	for k := range q {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]Point, 0, len(names))
	for _, name := range names {
		out = append(out, Point{Method: http.MethodGet, URL: raw, Param: name, Values: q})
	}
	return out
}

// numericPoints returns the query points whose value is an integer.
func (e *Env) numericPoints() []Point {
	var out []Point
	for _, p := range e.points() {
		if p.InBody {
			continue
		}
		if _, err := strconv.ParseInt(p.Values.Get(p.Param), 10, 64); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// targetURL resolves path against the scan target. Absolute paths are
// taken from the host root.
func (e *Env) targetURL(path string) string {
	base, err := url.Parse(e.Target)
	if err != nil {
		return e.Target + path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return e.Target + path
	}
	return base.ResolveReference(ref).String()
}
