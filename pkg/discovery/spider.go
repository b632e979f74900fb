// Package discovery crawls the target once, before any probe runs, and
// records the attack surface: forms, links carrying query parameters and
// API endpoints referenced from pages and scripts. The crawl is
// single-threaded and its result is read-only afterwards.
package discovery

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/dhascan/internal/logger"
	"github.com/PuerkitoBio/goquery"
)

// Fetcher is the part of the HTTP client the spider needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*httpclient.Response, error)
}

type Config struct {
	MaxPages int
	MaxDepth int
}

func DefaultConfig() Config {
	return Config{MaxPages: 20, MaxDepth: 2}
}

type Spider struct {
	client Fetcher
	cfg    Config
	logger *logger.Logger
}

func NewSpider(client Fetcher, cfg Config, log *logger.Logger) *Spider {
	if log == nil {
		log = logger.NewNop()
	}
	return &Spider{client: client, cfg: cfg, logger: log.WithComponent("discovery")}
}

type queued struct {
	url   string
	depth int
}

// Discover records the surface reachable from target. baseline is the
// already fetched response for target and is parsed without a second
// request. On cancellation the partial surface is returned with ctx.Err().
func (s *Spider) Discover(ctx context.Context, target string, baseline *httpclient.Response) (*Surface, error) {
	base, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	surface := newSurface()
	scope := scopeHosts(base.Host)
	visited := map[string]bool{normalize(base): true}

	surface.addLink(base)

	var queue []queued
	enqueue := func(links []string, depth int) {
		if depth > s.cfg.MaxDepth {
			return
		}
		for _, l := range links {
			u, err := url.Parse(l)
			if err != nil || !inScope(u, scope) || isStatic(u) {
				continue
			}
			key := normalize(u)
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, queued{url: u.String(), depth: depth})
		}
	}

	if baseline == nil {
		resp, err := s.client.Get(ctx, target)
		if err != nil {
			return surface, err
		}
		baseline = resp
	}
	enqueue(s.parse(target, baseline, surface), 1)
	surface.Pages = append(surface.Pages, target)

	for len(queue) > 0 && len(surface.Pages) < s.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return surface, err
		}
		next := queue[0]
		queue = queue[1:]

		resp, err := s.client.Get(ctx, next.url)
		if err != nil {
			if ctx.Err() != nil {
				return surface, ctx.Err()
			}
			s.logger.Debugw("Skipping page", "url", next.url, "error", err)
			continue
		}
		surface.Pages = append(surface.Pages, next.url)
		links := s.parse(next.url, resp, surface)
		enqueue(links, next.depth+1)
	}

	s.logger.Debugw("Discovery completed",
		"target", target,
		"pages", len(surface.Pages),
		"forms", len(surface.Forms),
		"param_links", len(surface.Links),
		"endpoints", len(surface.Endpoints))

	return surface, nil
}

// parse extracts forms, parameterised links and API endpoints from resp
// into surface and returns the in-page links to follow.
func (s *Spider) parse(pageURL string, resp *httpclient.Response, surface *Surface) []string {
	if ct := resp.HeaderValue("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		surface.addEndpoints(pageURL, extractAPIs(resp.Body))
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if err != nil {
		return nil
	}

	var scope []string
	if base, err := url.Parse(pageURL); err == nil {
		scope = scopeHosts(base.Host)
	}

	var links []string
	doc.Find("a[href], link[href], area[href], iframe[src], frame[src]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			href, _ = sel.Attr("src")
		}
		if abs := resolveURL(pageURL, href); abs != "" {
			links = append(links, abs)
			if u, err := url.Parse(abs); err == nil && inScope(u, scope) && !isStatic(u) {
				surface.addLink(u)
			}
		}
	})

	doc.Find("form").Each(func(_ int, sel *goquery.Selection) {
		form := Form{Page: pageURL, Method: "GET", Action: pageURL}
		if action, ok := sel.Attr("action"); ok && strings.TrimSpace(action) != "" {
			form.Action = resolveURL(pageURL, action)
		}
		if method, ok := sel.Attr("method"); ok && method != "" {
			form.Method = strings.ToUpper(method)
		}
		if enctype, ok := sel.Attr("enctype"); ok {
			form.Enctype = strings.ToLower(enctype)
		}
		sel.Find("input, textarea, select").Each(func(_ int, in *goquery.Selection) {
			name, ok := in.Attr("name")
			if !ok || name == "" {
				return
			}
			input := Input{Name: name, Type: "text"}
			if goquery.NodeName(in) != "input" {
				input.Type = goquery.NodeName(in)
			} else if t, ok := in.Attr("type"); ok {
				input.Type = strings.ToLower(t)
			}
			input.Value, _ = in.Attr("value")
			form.Inputs = append(form.Inputs, input)
		})
		if form.Action == "" {
			return
		}
		// forms posting to other hosts are never probed
		if u, err := url.Parse(form.Action); err != nil || !inScope(u, scope) {
			s.logger.Debugw("Skipping out-of-scope form", "page", pageURL, "action", form.Action)
			return
		}
		surface.addForm(form)
	})

	var apis []string
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			if abs := resolveURL(pageURL, src); abs != "" {
				surface.addScript(abs)
			}
			return
		}
		apis = append(apis, extractAPIs(sel.Text())...)
	})
	doc.Find("[data-url], [data-endpoint], [data-api]").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range []string{"data-url", "data-endpoint", "data-api"} {
			if v, ok := sel.Attr(attr); ok {
				apis = append(apis, v)
			}
		}
	})
	for _, l := range links {
		if looksLikeAPI(l) {
			apis = append(apis, l)
		}
	}
	surface.addEndpoints(pageURL, apis)

	return links
}

var apiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`["'](/(?:api|v\d+|graphql|rest)(?:/[^"'\s]*)?)["']`),
	regexp.MustCompile(`["'](https?://[^"'\s]*/(?:api|v\d+|graphql|rest)(?:/[^"'\s]*)?)["']`),
	regexp.MustCompile(`fetch\s*\(\s*["']([^"']+)["']`),
	regexp.MustCompile(`axios\.\w+\s*\(\s*["']([^"']+)["']`),
	regexp.MustCompile(`\$\.(?:ajax|get|post|getJSON)\s*\(\s*["']([^"']+)["']`),
	regexp.MustCompile(`\.open\s*\(\s*["'][A-Z]+["']\s*,\s*["']([^"']+)["']`),
}

func extractAPIs(js string) []string {
	var out []string
	for _, re := range apiPatterns {
		for _, m := range re.FindAllStringSubmatch(js, -1) {
			if api := m[len(m)-1]; isValidAPI(api) {
				out = append(out, api)
			}
		}
	}
	return out
}

func isValidAPI(api string) bool {
	return strings.HasPrefix(api, "/") || strings.HasPrefix(api, "http://") || strings.HasPrefix(api, "https://")
}

var apiPath = regexp.MustCompile(`/(api|v\d+|graphql|rest)(/|$)`)

func looksLikeAPI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return apiPath.MatchString(u.Path)
}

func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	hrefURL, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := baseURL.ResolveReference(hrefURL)
	abs.Fragment = ""
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

func scopeHosts(host string) []string {
	if strings.HasPrefix(host, "www.") {
		return []string{host, strings.TrimPrefix(host, "www.")}
	}
	return []string{host, "www." + host}
}

func inScope(u *url.URL, scope []string) bool {
	for _, h := range scope {
		if u.Host == h {
			return true
		}
	}
	return false
}

var staticExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".ico": true, ".webp": true,
	".css": true, ".js": true, ".map": true, ".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".pdf": true, ".zip": true, ".gz": true, ".mp4": true, ".mp3": true, ".avi": true,
}

func isStatic(u *url.URL) bool {
	return staticExt[strings.ToLower(path.Ext(u.Path))]
}

// normalize reduces a URL to scheme://host/path?sorted-params for visit
// tracking, so ?b=1&a=2 and ?a=2&b=1 are the same page.
func normalize(u *url.URL) string {
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	p := u.Path
	if p == "" {
		p = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + p + "?" + strings.Join(keys, "&")
}
