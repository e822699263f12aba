package article

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Fallback Title</title>
  <meta property="og:title" content="The Real Title">
  <meta property="og:site_name" content="Example Blog">
  <meta name="author" content="Jane Doe">
  <meta name="description" content="A short excerpt.">
  <style>body { color: red }</style>
</head>
<body>
  <nav><a href="/">Home</a></nav>
  <article>
    <h1>Heading</h1>
    <p>First   paragraph with <a href="https://go.dev" onclick="evil()">a link</a>.</p>
    <script>alert("x")</script>
    <p>Second paragraph.</p>
  </article>
  <footer>Copyright</footer>
</body>
</html>`

func TestParse(t *testing.T) {
	a, err := Parse(strings.NewReader(samplePage), nil)
	require.NoError(t, err)

	assert.Equal(t, "The Real Title", a.Title)
	assert.Equal(t, "Example Blog", a.SiteName)
	assert.Equal(t, "Jane Doe", a.Byline)
	assert.Equal(t, "A short excerpt.", a.Excerpt)

	assert.Equal(t, "Heading\n\nFirst paragraph with a link.\n\nSecond paragraph.", a.TextContent)

	assert.Contains(t, a.ContentHTML, `href="https://go.dev"`)
	assert.NotContains(t, a.ContentHTML, "onclick")
	assert.NotContains(t, a.ContentHTML, "alert")
	assert.NotContains(t, a.ContentHTML, "Home")
	assert.NotContains(t, a.ContentHTML, "Copyright")
}

func TestParse_Fallbacks(t *testing.T) {
	tests := []struct {
		name      string
		page      string
		wantTitle string
		wantText  string
	}{
		{
			name:      "main when no article",
			page:      `<html><head><title>T</title></head><body><div>outside</div><main><p>inside</p></main></body></html>`,
			wantTitle: "T",
			wantText:  "inside",
		},
		{
			name:      "body when no article or main",
			page:      `<html><body><header>skip</header><p>only body</p></body></html>`,
			wantTitle: "",
			wantText:  "only body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(strings.NewReader(tt.page), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, a.Title)
			assert.Equal(t, tt.wantText, a.TextContent)
		})
	}
}

func TestParse_NoContent(t *testing.T) {
	_, err := Parse(strings.NewReader(`<html><body><script>x()</script></body></html>`), nil)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestExtract(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><article><p>Hello reader</p></article></body></html>`))
	}))
	defer server.Close()

	e := New(Config{UserAgent: "test-agent"})
	a, err := e.Extract(context.Background(), server.URL+"/post")
	require.NoError(t, err)

	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "Hello reader", a.TextContent)
	assert.Equal(t, "127.0.0.1", a.SiteName, "site name falls back to the host")
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "not html",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/pdf")
				w.Write([]byte("%PDF"))
			},
			wantErr: ErrNotHTML,
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := New(Config{}).Extract(context.Background(), server.URL)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestExtract_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := New(Config{Timeout: 50 * time.Millisecond}).Extract(context.Background(), server.URL)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSuperseded)
}

func TestExtract_NewCallSupersedesPrevious(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			started <- struct{}{}
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>fast page</p></body></html>`))
	}))
	defer server.Close()
	defer close(release)

	e := New(Config{})

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Extract(context.Background(), server.URL+"/slow")
		errCh <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("slow request never arrived")
	}

	a, err := e.Extract(context.Background(), server.URL+"/fast")
	require.NoError(t, err)
	assert.Equal(t, "fast page", a.TextContent)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded extraction did not return")
	}
}
