package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexPage = `<html><head>
<script src="/static/app.js"></script>
<script>
  fetch("/api/v1/users");
  axios.get('/api/orders?page=1');
  var ext = "https://cdn.other.example/api/x";
</script>
</head><body>
<a href="/products?id=7&sort=asc">Products</a>
<a href="/products?sort=desc&id=9">Same shape</a>
<a href="/about">About</a>
<a href="https://elsewhere.example/?q=1">Offsite</a>
<a href="javascript:void(0)">JS</a>
<a href="/logo.png?v=2">Logo</a>
<form action="/search" method="get">
  <input type="text" name="q">
  <input type="submit" value="Go">
</form>
</body></html>`

const aboutPage = `<html><body>
<form method="POST" action="/contact">
  <input type="email" name="email">
  <textarea name="message"></textarea>
  <input type="hidden" name="csrf" value="tok">
</form>
<a href="/deep">Deeper</a>
</body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, indexPage)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, aboutPage)
	})
	mux.HandleFunc("/deep", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/deeper?x=1">x</a>`)
	})
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<p>product</p>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *httpclient.Client {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	c, err := httpclient.New(cfg, nil, nil)
	require.NoError(t, err)
	return c
}

func TestDiscover_CollectsSurface(t *testing.T) {
	srv := newSite(t)
	client := newClient(t)

	baseline, err := client.Get(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	spider := NewSpider(client, Config{MaxPages: 10, MaxDepth: 1}, nil)
	surface, err := spider.Discover(context.Background(), srv.URL+"/", baseline)
	require.NoError(t, err)

	require.Len(t, surface.Forms, 2)
	assert.Equal(t, srv.URL+"/search", surface.Forms[0].Action)
	assert.Equal(t, "GET", surface.Forms[0].Method)
	require.Len(t, surface.Forms[0].Injectable(), 1)
	assert.Equal(t, "q", surface.Forms[0].Injectable()[0].Name)

	contact := surface.Forms[1]
	assert.Equal(t, "POST", contact.Method)
	assert.Equal(t, srv.URL+"/contact", contact.Action)
	assert.Equal(t, "tok", contact.Values().Get("csrf"))
	assert.Equal(t, "dhascan@example.com", contact.Values().Get("email"))

	require.Len(t, surface.Links, 1, "links with the same parameter names collapse")
	assert.Equal(t, []string{"id", "sort"}, surface.Links[0].Params)
	assert.Equal(t, []string{"id"}, surface.Links[0].NumericParams())

	assert.Contains(t, surface.Endpoints, srv.URL+"/api/v1/users")
	assert.Contains(t, surface.Endpoints, srv.URL+"/api/orders?page=1")
	for _, e := range surface.Endpoints {
		assert.NotContains(t, e, "other.example", "off-scope endpoints are ignored")
	}

	assert.Contains(t, surface.Scripts, srv.URL+"/static/app.js")
	assert.False(t, surface.Empty())
}

func TestDiscover_SkipsOffsiteFormActions(t *testing.T) {
	var offsite int
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offsite++
	}))
	defer other.Close()

	page := fmt.Sprintf(`<html><body>
<form method="POST" action="%s/subscribe"><input type="email" name="email"></form>
<form method="POST" action="https://newsletter.example/join"><input name="name"></form>
<form method="POST" action="/login"><input name="user"><input type="password" name="pass"></form>
</body></html>`, other.URL)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	surface, err := NewSpider(newClient(t), DefaultConfig(), nil).Discover(context.Background(), srv.URL+"/", nil)
	require.NoError(t, err)

	require.Len(t, surface.Forms, 1)
	assert.Equal(t, srv.URL+"/login", surface.Forms[0].Action)
	assert.Zero(t, offsite, "discovery never contacts form action hosts")
}

func TestDiscover_RespectsDepth(t *testing.T) {
	srv := newSite(t)
	client := newClient(t)

	spider := NewSpider(client, Config{MaxPages: 10, MaxDepth: 1}, nil)
	surface, err := spider.Discover(context.Background(), srv.URL+"/", nil)
	require.NoError(t, err)
	assert.NotContains(t, surface.Pages, srv.URL+"/deep", "depth 2 page must not be fetched")

	spider = NewSpider(client, Config{MaxPages: 10, MaxDepth: 2}, nil)
	surface, err = spider.Discover(context.Background(), srv.URL+"/", nil)
	require.NoError(t, err)
	assert.Contains(t, surface.Pages, srv.URL+"/deep")
}

func TestDiscover_RespectsMaxPages(t *testing.T) {
	srv := newSite(t)
	spider := NewSpider(newClient(t), Config{MaxPages: 1, MaxDepth: 3}, nil)

	surface, err := spider.Discover(context.Background(), srv.URL+"/", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/"}, surface.Pages)
	assert.Len(t, surface.Forms, 1, "only the baseline page was parsed")
}

func TestDiscover_Cancelled(t *testing.T) {
	srv := newSite(t)
	client := newClient(t)
	baseline, err := client.Get(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	surface, err := NewSpider(client, DefaultConfig(), nil).Discover(ctx, srv.URL+"/", baseline)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, surface)
	assert.Equal(t, []string{srv.URL + "/"}, surface.Pages)
}

func TestNewSurface(t *testing.T) {
	s := NewSurface(nil, []string{"http://t/a?x=1", "http://t/a?x=2", "http://t/b"}, []string{"http://t/graphql", "http://t/graphql"})
	assert.Len(t, s.Links, 1)
	assert.Equal(t, []string{"http://t/graphql"}, s.GraphQLEndpoints())
	assert.True(t, s.HasParams())
	assert.False(t, s.HasForms())

	var empty *Surface
	assert.True(t, empty.Empty())
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"/a/b", "http://t.example/a/b"},
		{"c?d=1#frag", "http://t.example/x/c?d=1"},
		{"#top", ""},
		{"mailto:a@b", ""},
		{"ftp://t.example/f", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveURL("http://t.example/x/y", tt.href), tt.href)
	}
}
