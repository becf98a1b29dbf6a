package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/mae/internal/apperr"
)

const page = `<!DOCTYPE html>
<html><head><title>ignored</title><style>p { color: red }</style></head>
<body>
<nav>Home | About</nav>
<h1>Report</h1>
<p>Alice   met
Bob in <b>Zürich</b>.</p>
<script>var x = 1;</script>
<ul><li>first</li><li>second</li></ul>
</body></html>`

func TestExtractText(t *testing.T) {
	assert.Equal(t, "Report\nAlice met Bob in Zürich .\nfirst\nsecond", ExtractText(page))
}

func TestFetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "mae")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	text, err := New(5*time.Second, 1<<20).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "Alice met Bob")
	assert.NotContains(t, text, "var x")
}

func TestFetchPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("  line one\n  line two  \n"))
	}))
	defer srv.Close()

	text, err := New(5*time.Second, 1<<20).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "line one\n  line two", text)
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html><script>only()</script></html>"))
		}
	}))
	defer srv.Close()

	f := New(5*time.Second, 1<<20)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	var ioe *apperr.IOError
	assert.ErrorAs(t, err, &ioe)

	_, err = f.Fetch(context.Background(), srv.URL+"/empty")
	assert.True(t, apperr.IsInvalid(err))

	_, err = f.Fetch(context.Background(), "ftp://example.com/file")
	assert.True(t, apperr.IsInvalid(err))
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com"))
	assert.True(t, IsURL("www.example.com"))
	assert.False(t, IsURL("notes.txt"))
}
