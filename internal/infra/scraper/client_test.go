package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchTextExtractsParagraphs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<h1>Title is ignored</h1>
			<p>First paragraph.</p>
			<div><p>Nested <b>second</b> paragraph.</p></div>
			<script>var ignored = true;</script>
		</body></html>`))
	}))
	defer srv.Close()

	c := NewClient()
	text, err := c.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "First paragraph. Nested second paragraph.", text)
	assert.NotContains(t, text, "Title is ignored")
}

func TestClient_FetchTextTruncatesToMaxChars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>" + strings.Repeat("word ", 2000) + "</p></body></html>"))
	}))
	defer srv.Close()

	c := NewClient(WithMaxChars(100))
	text, err := c.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, text, 100)
}

func TestClient_FetchTextTruncatesMultibyteOnRuneBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>" + strings.Repeat("あ", 200) + "</p></body></html>"))
	}))
	defer srv.Close()

	c := NewClient(WithMaxChars(100))
	text, err := c.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(text), "切り詰めがマルチバイト文字を破壊している")
	assert.Equal(t, 100, utf8.RuneCountInString(text))
}

func TestClient_FetchTextSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("<html><body><p>ok</p></body></html>"))
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("custom-agent/2.0"))
	_, err := c.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "custom-agent/2.0", gotUA)
}

func TestClient_FetchTextRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.FetchText(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_FetchTextHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient()
	_, err := c.FetchText(ctx, srv.URL)
	require.Error(t, err)
}
